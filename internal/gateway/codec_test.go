package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestHMACCodec_CanonicalRules(t *testing.T) {
	codec := NewHMACCodec("secret", "checksum", sha256.New, "meta")

	cases := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{
			name:   "sorted by key",
			params: map[string]string{"b": "2", "a": "1", "c": "3"},
			want:   "a=1&b=2&c=3",
		},
		{
			name:   "signature and excluded fields dropped",
			params: map[string]string{"a": "1", "checksum": "deadbeef", "meta": "x"},
			want:   "a=1",
		},
		{
			name:   "empty values dropped",
			params: map[string]string{"a": "1", "b": "", "c": "3"},
			want:   "a=1&c=3",
		},
		{
			name:   "space encoded as plus",
			params: map[string]string{"desc": "Order 42"},
			want:   "desc=Order+42",
		},
		{
			name:   "both key and value escaped",
			params: map[string]string{"a&b": "x=y"},
			want:   "a%26b=x%3Dy",
		},
		{
			name:   "sorted by encoded key not raw key",
			params: map[string]string{"a&b": "1", "a1": "2"},
			// "a%26b" < "a1": `%` сортируется раньше цифры.
			want: "a%26b=1&a1=2",
		},
		{
			name:   "empty params",
			params: map[string]string{},
			want:   "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := codec.Canonical(tc.params); got != tc.want {
				t.Fatalf("canonical mismatch: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHMACCodec_SignIsLowercaseHexOfHMAC(t *testing.T) {
	codec := NewHMACCodec("secret", "checksum", sha256.New)
	params := map[string]string{"amount": "100.00", "invoice_no": "PG-1"}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("amount=100.00&invoice_no=PG-1"))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := codec.Sign(params); got != want {
		t.Fatalf("signature mismatch: got %s, want %s", got, want)
	}
}

func TestHMACCodec_VerifyRoundTrip(t *testing.T) {
	codec := NewHMACCodec("secret", "checksum", sha256.New)

	params := map[string]string{"invoice_no": "PG-1", "payment_status": "APPROVED"}
	params["checksum"] = codec.Sign(params)

	if !codec.Verify(params) {
		t.Fatal("expected signed params to verify")
	}
}

func TestHMACCodec_VerifyRejects(t *testing.T) {
	codec := NewHMACCodec("secret", "checksum", sha256.New)

	signed := map[string]string{"invoice_no": "PG-1", "payment_status": "APPROVED"}
	signed["checksum"] = codec.Sign(signed)

	t.Run("tampered value", func(t *testing.T) {
		params := map[string]string{
			"invoice_no":     "PG-1",
			"payment_status": "DECLINED",
			"checksum":       signed["checksum"],
		}
		if codec.Verify(params) {
			t.Fatal("expected tampered params to fail verification")
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		if codec.Verify(map[string]string{"invoice_no": "PG-1"}) {
			t.Fatal("expected params without signature to fail verification")
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if codec.Verify(map[string]string{"invoice_no": "PG-1", "checksum": "  "}) {
			t.Fatal("expected blank signature to fail verification")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewHMACCodec("other-secret", "checksum", sha256.New)
		if other.Verify(signed) {
			t.Fatal("expected signature from another secret to fail verification")
		}
	})
}

func TestHMACCodec_VerifyAcceptsUppercaseHex(t *testing.T) {
	codec := NewHMACCodec("secret", "checksum", sha256.New)

	params := map[string]string{"invoice_no": "PG-1"}
	sig := codec.Sign(params)

	upper := make(map[string]string)
	for k, v := range params {
		upper[k] = v
	}
	upper["checksum"] = " " + toUpperHex(sig) + " "

	if !codec.Verify(upper) {
		t.Fatal("expected uppercase signature with padding to verify")
	}
}

func toUpperHex(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}

func TestTrustedCodec(t *testing.T) {
	codec := TrustedCodec{}

	if got := codec.Sign(map[string]string{"a": "1"}); got != "" {
		t.Fatalf("expected empty signature, got %q", got)
	}
	if !codec.Verify(map[string]string{"anything": "goes"}) {
		t.Fatal("expected trusted codec to accept any params")
	}
}
