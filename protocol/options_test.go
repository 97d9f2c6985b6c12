package protocol

import "testing"

func TestParseEvalOptions_Defaults(t *testing.T) {
	opts, err := ParseEvalOptions("?=")
	if err != nil {
		t.Fatalf("ParseEvalOptions returned error: %v", err)
	}
	if opts != (EvalOptions{}) {
		t.Errorf("ParseEvalOptions(\"?=\") = %+v, want zero options", opts)
	}
	if opts.Env != EnvGlobal {
		t.Errorf("default Env = %v, want global", opts.Env)
	}
}

func TestParseEvalOptions_AllFlags(t *testing.T) {
	opts, err := ParseEvalOptions("?=BN@/0r")
	if err != nil {
		t.Fatalf("ParseEvalOptions returned error: %v", err)
	}
	want := EvalOptions{
		Env:        EnvBase,
		NewEnv:     true,
		Reentrant:  true,
		Cancelable: true,
		NoResult:   true,
		RawResult:  true,
	}
	if opts != want {
		t.Errorf("ParseEvalOptions = %+v, want %+v", opts, want)
	}
}

func TestParseEvalOptions_EmptyEnv(t *testing.T) {
	opts, err := ParseEvalOptions("?=E/")
	if err != nil {
		t.Fatalf("ParseEvalOptions returned error: %v", err)
	}
	if opts.Env != EnvEmpty || !opts.Cancelable {
		t.Errorf("ParseEvalOptions(\"?=E/\") = %+v", opts)
	}
}

func TestParseEvalOptions_Errors(t *testing.T) {
	if _, err := ParseEvalOptions("?=BE"); err == nil {
		t.Error("duplicate environment flags should fail")
	}
	if _, err := ParseEvalOptions("?=z"); err == nil {
		t.Error("unrecognized flag should fail")
	}
	if _, err := ParseEvalOptions("?>"); err == nil {
		t.Error("non-eval name should fail")
	}
}

func TestEvalOptions_NameRoundTrip(t *testing.T) {
	names := []string{"?=", "?=B", "?=E", "?=N@/0r", "?=BN@/0r"}
	for _, name := range names {
		opts, err := ParseEvalOptions(name)
		if err != nil {
			t.Fatalf("ParseEvalOptions(%q) returned error: %v", name, err)
		}
		if got := opts.Name(); got != name {
			t.Errorf("Name() = %q, want %q", got, name)
		}
	}
}
