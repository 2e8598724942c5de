package derive

import (
	"bytes"
	"errors"
	"testing"

	"github.com/alanyoungcy/custodex/internal/domain"
)

var testProgram = ProgramID("test")

func TestFindAddressIsDeterministicAndOffCurve(t *testing.T) {
	seeds := [][]byte{[]byte("marketplace"), []byte("alpha")}

	a1, b1, err := FindAddress(seeds, testProgram)
	if err != nil {
		t.Fatalf("FindAddress: %v", err)
	}
	a2, b2, err := FindAddress(seeds, testProgram)
	if err != nil {
		t.Fatalf("FindAddress: %v", err)
	}
	if a1 != a2 || b1 != b2 {
		t.Fatalf("derivation not deterministic: %s/%d vs %s/%d", a1, b1, a2, b2)
	}
	if OnCurve(a1[:]) {
		t.Fatalf("derived address %s is on curve", a1)
	}

	again, err := CreateAddress(WithBump(seeds, b1), testProgram)
	if err != nil {
		t.Fatalf("CreateAddress with stored bump: %v", err)
	}
	if again != a1 {
		t.Fatalf("re-derivation with stored bump = %s, want %s", again, a1)
	}
}

func TestDistinctSeedsDistinctAddresses(t *testing.T) {
	cases := [][][]byte{
		{[]byte("marketplace"), []byte("alpha")},
		{[]byte("marketplace"), []byte("beta")},
		{[]byte("marketplacealpha")},
		{[]byte("treasury"), []byte("alpha")},
		{[]byte("ab"), []byte("c")},
		{[]byte("a"), []byte("bc")},
		{[]byte("abc")},
		{[]byte("abc"), []byte{}},
	}
	seen := make(map[domain.Address]int)
	for i, seeds := range cases {
		addr, _, err := FindAddress(seeds, testProgram)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if j, dup := seen[addr]; dup {
			t.Fatalf("case %d collides with case %d", i, j)
		}
		seen[addr] = i
	}
}

func TestProgramScopesDerivation(t *testing.T) {
	seeds := [][]byte{[]byte("same")}
	a, _, err := FindAddress(seeds, ProgramID("one"))
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := FindAddress(seeds, ProgramID("two"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("same seeds under different programs must not collide")
	}
}

func TestVerify(t *testing.T) {
	seeds := [][]byte{[]byte("listing"), bytes.Repeat([]byte{7}, 32)}
	addr, bump, err := FindAddress(seeds, testProgram)
	if err != nil {
		t.Fatal(err)
	}

	if err := Verify(seeds, bump, testProgram, addr); err != nil {
		t.Fatalf("Verify with correct bump: %v", err)
	}
	if err := Verify(seeds, bump, ProgramID("other"), addr); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("Verify under wrong program = %v, want authorization error", err)
	}
	other := [][]byte{[]byte("listing"), bytes.Repeat([]byte{8}, 32)}
	if err := Verify(other, bump, testProgram, addr); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("Verify with wrong seeds = %v, want authorization error", err)
	}
}

func TestSeedLimits(t *testing.T) {
	if _, err := CreateAddress([][]byte{make([]byte, MaxSeedLen+1)}, testProgram); err == nil {
		t.Fatal("expected error for oversize seed")
	}
	tooMany := make([][]byte, MaxSeeds+1)
	for i := range tooMany {
		tooMany[i] = []byte{byte(i)}
	}
	if _, err := CreateAddress(tooMany, testProgram); err == nil {
		t.Fatal("expected error for too many seeds")
	}
}

func TestU64LittleEndian(t *testing.T) {
	got := U64(0x0102030405060708)
	want := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	if !bytes.Equal(got, want) {
		t.Fatalf("U64 = %v, want %v", got, want)
	}
}
