package codec

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/custodex/internal/domain"
)

func TestEncodeDecode(t *testing.T) {
	in := domain.Listing{
		Maker:     domain.Address{1},
		MakerMint: domain.Address{2},
		Price:     10_000,
		Bump:      254,
	}
	data, err := Encode("Listing", in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !Is("Listing", data) {
		t.Fatal("encoded data does not carry its discriminator")
	}

	var out domain.Listing
	if err := Decode("Listing", data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("Decode = %+v, want %+v", out, in)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	v := domain.Marketplace{Admin: domain.Address{9}, Fee: 500, Name: "alpha"}
	a, err := Encode("Marketplace", v)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode("Marketplace", v)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatal("encoding is not deterministic")
	}
}

func TestDecodeRejectsForeignType(t *testing.T) {
	data, err := Encode("Marketplace", domain.Marketplace{Name: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	var l domain.Listing
	err = Decode("Listing", data, &l)
	if !errors.Is(err, domain.ErrConsistency) {
		t.Fatalf("Decode foreign type = %v, want consistency error", err)
	}
	if err := Decode("Listing", []byte{1, 2}, &l); !errors.Is(err, domain.ErrConsistency) {
		t.Fatalf("Decode short data = %v, want consistency error", err)
	}
}
