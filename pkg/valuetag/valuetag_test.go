package valuetag

import (
	"testing"
	"time"
)

func TestNormalize_Int(t *testing.T) {
	if got := FromInt(42).Normalize(); got != "42" {
		t.Fatalf("expected \"42\", got %q", got)
	}
}

func TestNormalize_Float(t *testing.T) {
	got := FromFloat(3.14).Normalize()
	if got != "3.1400000000" {
		t.Fatalf("expected 10-decimal fixed format, got %q", got)
	}
}

func TestNormalize_Bool(t *testing.T) {
	if FromBool(true).Normalize() != "TRUE" {
		t.Fatalf("expected TRUE")
	}
	if FromBool(false).Normalize() != "FALSE" {
		t.Fatalf("expected FALSE")
	}
}

func TestNormalize_Null(t *testing.T) {
	if Null().Normalize() != "NULL" {
		t.Fatalf("expected NULL")
	}
}

func TestNormalize_Datetime(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)
	got := FromTime(ts).Normalize()
	want := "2026-01-02T03:04:05.123456Z"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestNormalize_String(t *testing.T) {
	if FromString("hello").Normalize() != "hello" {
		t.Fatalf("expected passthrough string")
	}
}

func TestFromAny_Exhaustive(t *testing.T) {
	cases := []struct {
		in   any
		kind Kind
	}{
		{nil, KindNull},
		{42, KindInt},
		{int64(42), KindInt},
		{3.14, KindFloat},
		{true, KindBool},
		{time.Now(), KindDatetime},
		{"s", KindString},
	}
	for _, c := range cases {
		if got := FromAny(c.in).Kind(); got != c.kind {
			t.Fatalf("FromAny(%#v): want kind %v, got %v", c.in, c.kind, got)
		}
	}
}
