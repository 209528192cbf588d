package jsonvalue

import (
	"encoding/json"
	"testing"
)

func TestValueRoundTrip(t *testing.T) {
	obj := Object()
	obj.Set("name", String("evil-bit"))
	obj.Set("count", Number(42))
	obj.Set("active", Bool(true))
	obj.Set("tags", Array(String("a"), String("b")))
	obj.Set("nested", Null())

	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Value
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if s, ok := out.Get("name").AsString(); !ok || s != "evil-bit" {
		t.Errorf("name = %q, %v", s, ok)
	}
	if n, ok := out.Get("count").AsNumber(); !ok || n != 42 {
		t.Errorf("count = %v, %v", n, ok)
	}
	if b, ok := out.Get("active").AsBool(); !ok || !b {
		t.Errorf("active = %v, %v", b, ok)
	}
	arr, ok := out.Get("tags").AsArray()
	if !ok || len(arr) != 2 {
		t.Fatalf("tags = %v, %v", arr, ok)
	}
	if out.Get("nested").Kind() != KindNull {
		t.Errorf("nested kind = %v, want KindNull", out.Get("nested").Kind())
	}
	if out.Get("missing").Kind() != KindNull {
		t.Errorf("missing key should yield Null")
	}
}

func TestValueNullMarshal(t *testing.T) {
	data, err := json.Marshal(Null())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("Null() marshaled as %s, want null", data)
	}
}

func TestSharedParamsLastWriteWins(t *testing.T) {
	p := NewSharedParams()
	p.Set("k", String("first"))
	p.Set("k", String("second"))

	got := p.Get("k")
	if s, _ := got.AsString(); s != "second" {
		t.Errorf("Get(k) = %q, want second", s)
	}
}

func TestSharedParamsMissingKeyIsNull(t *testing.T) {
	p := NewSharedParams()
	got := p.Get("absent")
	if got.Kind() != KindNull {
		t.Errorf("Get(absent).Kind() = %v, want KindNull", got.Kind())
	}
}

func TestSharedParamsConcurrentAccess(t *testing.T) {
	p := NewSharedParams()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			p.Set("k", Number(float64(n)))
			p.Get("k")
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if p.Get("k").Kind() != KindNumber {
		t.Errorf("expected KindNumber after concurrent writes")
	}
}
