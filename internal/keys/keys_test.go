package keys

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Well-known development phrase with published derivation results; pins the
// m/44'/60'/0'/0/{i} path.
const devPhrase = "test test test test test test test test test test test junk"

func TestGeneratePhrase_WordCounts(t *testing.T) {
	cases := []struct {
		strength int
		words    int
	}{
		{Strength12Words, 12},
		{Strength24Words, 24},
	}
	for _, tc := range cases {
		phrase, err := GeneratePhrase(tc.strength)
		if err != nil {
			t.Fatalf("GeneratePhrase(%d): %v", tc.strength, err)
		}
		if got := len(strings.Fields(phrase)); got != tc.words {
			t.Fatalf("word count: got %d want %d", got, tc.words)
		}
		if !ValidatePhrase(phrase) {
			t.Fatalf("generated phrase failed validation: %q", phrase)
		}
	}
}

func TestGeneratePhrase_RejectsOtherStrengths(t *testing.T) {
	for _, strength := range []int{0, 64, 160, 192, 512} {
		if _, err := GeneratePhrase(strength); !errors.Is(err, ErrInvalidStrength) {
			t.Fatalf("GeneratePhrase(%d): got %v want ErrInvalidStrength", strength, err)
		}
	}
}

func TestValidatePhrase(t *testing.T) {
	cases := []struct {
		phrase string
		want   bool
	}{
		{devPhrase, true},
		{"  Test  test test test test test test test test test test JUNK ", true},
		{"test test test test test test test test test test test test", false}, // bad checksum
		{"not a phrase", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidatePhrase(tc.phrase); got != tc.want {
			t.Fatalf("ValidatePhrase(%q): got %v want %v", tc.phrase, got, tc.want)
		}
	}
}

func TestDeriveAccount_KnownVectors(t *testing.T) {
	cases := []struct {
		index uint32
		addr  string
	}{
		{0, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		{1, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"},
	}
	for _, tc := range cases {
		addr, key, err := DeriveAccount(devPhrase, tc.index, "")
		if err != nil {
			t.Fatalf("DeriveAccount(%d): %v", tc.index, err)
		}
		if addr != common.HexToAddress(tc.addr) {
			t.Fatalf("address[%d]: got %s want %s", tc.index, addr, tc.addr)
		}
		if got := crypto.PubkeyToAddress(key.PublicKey); got != addr {
			t.Fatalf("key/address mismatch at index %d", tc.index)
		}
	}
}

func TestDeriveAccount_StableAndDistinct(t *testing.T) {
	a0, k0, err := DeriveAccount(devPhrase, 0, "")
	if err != nil {
		t.Fatalf("DeriveAccount: %v", err)
	}
	a0again, k0again, err := DeriveAccount(devPhrase, 0, "")
	if err != nil {
		t.Fatalf("DeriveAccount: %v", err)
	}
	if a0 != a0again || k0.D.Cmp(k0again.D) != 0 {
		t.Fatalf("derivation not stable at index 0")
	}

	a1, _, err := DeriveAccount(devPhrase, 1, "")
	if err != nil {
		t.Fatalf("DeriveAccount: %v", err)
	}
	if a1 == a0 {
		t.Fatalf("distinct indexes must derive distinct addresses")
	}

	// A phrase-level passphrase changes the whole account tree.
	aSecret, _, err := DeriveAccount(devPhrase, 0, "trezor")
	if err != nil {
		t.Fatalf("DeriveAccount: %v", err)
	}
	if aSecret == a0 {
		t.Fatalf("passphrase must alter derivation")
	}
}

func TestDeriveAccount_InvalidPhrase(t *testing.T) {
	if _, _, err := DeriveAccount("definitely not a phrase", 0, ""); !errors.Is(err, ErrInvalidPhrase) {
		t.Fatalf("got %v want ErrInvalidPhrase", err)
	}
}

func TestImportSigningKey(t *testing.T) {
	const rawKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	wantAddr := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"bare hex", rawKey, true},
		{"0x prefix", "0x" + rawKey, true},
		{"surrounding space", "  " + rawKey + "\n", true},
		{"too short", rawKey[:62], false},
		{"too long", rawKey + "00", false},
		{"not hex", strings.Repeat("zz", 32), false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		addr, key, ok := ImportSigningKey(tc.in)
		if ok != tc.ok {
			t.Fatalf("%s: ok=%v want %v", tc.name, ok, tc.ok)
		}
		if !tc.ok {
			if key != nil {
				t.Fatalf("%s: key must be nil on failure", tc.name)
			}
			continue
		}
		if addr != wantAddr {
			t.Fatalf("%s: address got %s want %s", tc.name, addr, wantAddr)
		}
	}
}
