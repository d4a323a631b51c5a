package logging

import "testing"

func TestNew_ReturnsUsableLogger(t *testing.T) {
	l := New("worker-1")
	if l == nil || l.z == nil {
		t.Fatal("expected a constructed logger")
	}
	l.Info("started")
	if err := l.Sync(); err != nil {
		t.Logf("sync: %v (benign on some platforms for stdout)", err)
	}
}

func TestMask_RedactsStringFieldsOnly(t *testing.T) {
	fields := mask([]Field{
		String("email", "user@example.com"),
		Int("count", 3),
	})
	if fields[0].String != "***@***.***" {
		t.Errorf("string field = %q, want masked", fields[0].String)
	}
	if fields[1].Integer != 3 {
		t.Errorf("int field unexpectedly altered: %+v", fields[1])
	}
}

func TestWith_CarriesMaskedFieldsForward(t *testing.T) {
	l := New("worker-1").With(String("contact", "a@b.com"))
	if l == nil {
		t.Fatal("expected child logger")
	}
}
