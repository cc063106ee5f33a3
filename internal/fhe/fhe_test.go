package fhe

import (
	"bytes"
	"errors"
	"testing"
)

func TestZeroHandleNotInitialized(t *testing.T) {
	var c Ciphertext

	if c.Initialized() {
		t.Error("zero handle should not be initialized")
	}
}

func TestFromBytesCopies(t *testing.T) {
	raw := DevEncrypt(42).Bytes()
	c := FromBytes(raw)

	raw[0] = 0xFF

	if !c.Initialized() {
		t.Error("mutating the source slice should not affect the handle")
	}
}

func TestBytesCopies(t *testing.T) {
	c := DevEncrypt(42)

	buf := c.Bytes()
	buf[0] = 0xFF

	if !c.Initialized() {
		t.Error("mutating the returned slice should not affect the handle")
	}
}

func TestBytesStable(t *testing.T) {
	a := DevEncrypt(7)
	b := DevEncrypt(7)

	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("identical values should serialize identically")
	}

	if !a.Equal(b) {
		t.Error("identical values should compare equal")
	}

	if a.Equal(DevEncrypt(8)) {
		t.Error("different values should not compare equal")
	}
}

func TestDevRoundTrip(t *testing.T) {
	c := DevEncrypt(123456)

	value, err := DevDecrypt(c)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}

	if value != 123456 {
		t.Errorf("expected 123456, got %d", value)
	}
}

func TestDevDecryptRejectsUninitialized(t *testing.T) {
	_, err := DevDecrypt(Ciphertext{})
	if !errors.Is(err, ErrUninitialized) {
		t.Errorf("expected ErrUninitialized, got %v", err)
	}
}

func TestDevDecryptRejectsForeignScheme(t *testing.T) {
	c := FromBytes([]byte{envelopeV1, 0x02, 0, 0, 0, 0, 0, 0, 0, 0})

	_, err := DevDecrypt(c)
	if err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestDevDecryptRejectsTruncatedPayload(t *testing.T) {
	c := FromBytes([]byte{envelopeV1, schemeDev, 1, 2, 3})

	_, err := DevDecrypt(c)
	if err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestDevArithmetic(t *testing.T) {
	arith := DevArithmetic{}

	sum, err := arith.Add(DevEncrypt(5000), DevEncrypt(6000))
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if v, _ := DevDecrypt(sum); v != 11000 {
		t.Errorf("expected 11000, got %d", v)
	}

	product, err := arith.Multiply(DevEncrypt(5000), DevEncrypt(10))
	if err != nil {
		t.Fatalf("multiply failed: %v", err)
	}
	if v, _ := DevDecrypt(product); v != 50000 {
		t.Errorf("expected 50000, got %d", v)
	}

	quotient, err := arith.DivideByConstant(product, 100)
	if err != nil {
		t.Fatalf("divide failed: %v", err)
	}
	if v, _ := DevDecrypt(quotient); v != 500 {
		t.Errorf("expected 500, got %d", v)
	}
}

func TestDevArithmeticIntegerDivision(t *testing.T) {
	arith := DevArithmetic{}

	quotient, err := arith.DivideByConstant(DevEncrypt(199), 100)
	if err != nil {
		t.Fatalf("divide failed: %v", err)
	}

	if v, _ := DevDecrypt(quotient); v != 1 {
		t.Errorf("expected truncating division to yield 1, got %d", v)
	}
}

func TestDevArithmeticZeroDivisor(t *testing.T) {
	arith := DevArithmetic{}

	_, err := arith.DivideByConstant(DevEncrypt(10), 0)
	if err == nil {
		t.Error("expected error for zero divisor")
	}
}

func TestDevArithmeticRejectsUninitialized(t *testing.T) {
	arith := DevArithmetic{}

	_, err := arith.Add(Ciphertext{}, DevEncrypt(1))
	if !errors.Is(err, ErrUninitialized) {
		t.Errorf("expected ErrUninitialized, got %v", err)
	}

	_, err = arith.Multiply(DevEncrypt(1), Ciphertext{})
	if !errors.Is(err, ErrUninitialized) {
		t.Errorf("expected ErrUninitialized, got %v", err)
	}
}

func TestDevArithmeticDeterministic(t *testing.T) {
	arith := DevArithmetic{}

	first, err := arith.Add(DevEncrypt(3), DevEncrypt(4))
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	second, err := arith.Add(DevEncrypt(3), DevEncrypt(4))
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("repeated operations should produce identical envelopes")
	}
}
