package policy

import "testing"

// FuzzParse targets the policy YAML parser for panics and for resource-limit
// parsing errors leaking past Validate as anything but a returned error.
func FuzzParse(f *testing.F) {
	seeds := []string{
		"",
		`version: "1.0"`,
		`version: "2.0"`,
		"version: \"1.0\"\npermissions:\n  resources:\n    limits:\n      memory: \"256Mi\"\n      cpu: \"500m\"\n",
		"version: \"1.0\"\npermissions:\n  resources:\n    limits:\n      memory: \"not-a-size\"\n",
		"version: \"1.0\"\npermissions:\n  network:\n    allow:\n      - host: \"\"\n",
		"{]",
		"version: 1.0",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Parse panicked on input %q: %v", raw, r)
			}
		}()
		_, _ = Parse([]byte(raw))
	})
}

// FuzzParseMemory and FuzzParseCPU target the resource-limit string parsers:
// they must reject malformed input with ErrInvalidLimit, never panic, and
// never return a negative value for well-formed input.
func FuzzParseMemory(f *testing.F) {
	for _, s := range []string{"1024", "1Ki", "256Mi", "1Gi", "1Ti", "-1", "", "1Xi", "99999999999999999999"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("ParseMemory panicked on input %q: %v", s, r)
			}
		}()
		n, err := ParseMemory(s)
		if err == nil && n < 0 {
			t.Fatalf("ParseMemory(%q) returned negative value %d with no error", s, n)
		}
	})
}

func FuzzParseCPU(f *testing.F) {
	for _, s := range []string{"500m", "2", "0.5", "-1", "", "1x", "999999999999999999999"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("ParseCPU panicked on input %q: %v", s, r)
			}
		}()
		n, err := ParseCPU(s)
		if err == nil && n < 0 {
			t.Fatalf("ParseCPU(%q) returned negative value %d with no error", s, n)
		}
	})
}
