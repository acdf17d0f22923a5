package wire

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeComponent(t *testing.T) {
	// Padded URL-safe alphabet: these exact tokens appear on the wire.
	assert.Equal(t, "NQ==", EncodeComponent("5"))
	assert.Equal(t, "Mw==", EncodeComponent("3"))
	assert.Equal(t, "OA==", EncodeComponent("8"))
	assert.Equal(t, "Q2FsY3VsYXRvci9hZGQoSUkp", EncodeComponent("Calculator/add(II)"))
	assert.Equal(t, "RWNoby9lY2hvKExqYXZhL2xhbmcvU3RyaW5nOyk=", EncodeComponent("Echo/echo(Ljava/lang/String;)"))
}

func TestDecodeComponentRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"5",
		"Calculator/add(II)",
		"text with | pipe, comma and\nnewline",
		"binary-ish \x00\x01\xfe\xff",
		"ünïcödé ✓",
	}
	for _, in := range inputs {
		out, err := DecodeComponent(EncodeComponent(in))
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestDecodeComponentAcceptsBothAlphabets(t *testing.T) {
	// Standard alphabet with padding
	out, err := DecodeComponent("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	// URL-safe without padding
	out, err = DecodeComponent("aGVsbG8")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	// URL-safe characters decode as their standard counterparts
	std, err := DecodeComponentBytes("-_-_")
	require.NoError(t, err)
	url, err := DecodeComponentBytes("+/+/")
	require.NoError(t, err)
	assert.Equal(t, url, std)
}

func TestDecodeComponentRejectsGarbage(t *testing.T) {
	_, err := DecodeComponent("not base64 at all!")
	require.Error(t, err)
}

func TestChecksumCRC32(t *testing.T) {
	cfg := &SecurityConfig{Checksum: ChecksumCRC32}

	seg := ChecksumSegment("hello", cfg)
	assert.Equal(t, "CHK:3610a686", seg)
	assert.True(t, VerifyChecksum("hello", seg, cfg))
	assert.False(t, VerifyChecksum("hellp", seg, cfg))
}

func TestChecksumCRC32UnpaddedHex(t *testing.T) {
	// Hex is unpadded: at most 8 chars, fewer with leading zero nibbles.
	cfg := &SecurityConfig{Checksum: ChecksumCRC32}
	seg := ChecksumSegment("codes", cfg)
	assert.LessOrEqual(t, len(seg)-len(ChecksumPrefix), 8)
	assert.True(t, VerifyChecksum("codes", seg, cfg))
}

func TestChecksumHMAC(t *testing.T) {
	cfg := &SecurityConfig{Checksum: ChecksumHMAC, HMACKey: []byte("secret")}

	seg := ChecksumSegment("payload", cfg)
	require.NotEmpty(t, seg)
	assert.True(t, VerifyChecksum("payload", seg, cfg))

	// Different key fails verification
	other := &SecurityConfig{Checksum: ChecksumHMAC, HMACKey: []byte("other")}
	assert.False(t, VerifyChecksum("payload", seg, other))
}

func TestChecksumDisabled(t *testing.T) {
	cfg := DefaultSecurityConfig()
	assert.Empty(t, ChecksumSegment("anything", cfg))
	assert.True(t, VerifyChecksum("anything", "", cfg))
}

func TestChecksumTamperDetection(t *testing.T) {
	// Flipping any content byte flips verification.
	cfg := &SecurityConfig{Checksum: ChecksumCRC32}
	content := "0|bWV0YQ==|cGFyYW1z"
	seg := ChecksumSegment(content, cfg)

	for i := range content {
		tampered := content[:i] + string(content[i]^1) + content[i+1:]
		assert.False(t, VerifyChecksum(tampered, seg, cfg), "byte %d", i)
	}
}

func TestSplitTrailing(t *testing.T) {
	t.Run("no trailers", func(t *testing.T) {
		tr := SplitTrailing("V2|0|{{bWV0YQ==}}|[]")
		assert.Equal(t, "V2|0|{{bWV0YQ==}}|[]", tr.Content)
		assert.Empty(t, tr.Checksum)
		assert.Empty(t, tr.Signature)
	})

	t.Run("checksum only", func(t *testing.T) {
		tr := SplitTrailing("content|CHK:deadbeef")
		assert.Equal(t, "content", tr.Content)
		assert.Equal(t, "CHK:deadbeef", tr.Checksum)
		assert.Empty(t, tr.Signature)
	})

	t.Run("checksum and signature", func(t *testing.T) {
		tr := SplitTrailing("content|CHK:deadbeef|SIG:RSA:c2ln")
		assert.Equal(t, "content", tr.Content)
		assert.Equal(t, "CHK:deadbeef", tr.Checksum)
		assert.Equal(t, "SIG:RSA:c2ln", tr.Signature)
		assert.Equal(t, "content|CHK:deadbeef", tr.SignedPayload())
	})

	t.Run("signature only", func(t *testing.T) {
		tr := SplitTrailing("content|SIG:RSA:c2ln")
		assert.Equal(t, "content", tr.Content)
		assert.Empty(t, tr.Checksum)
		assert.Equal(t, "SIG:RSA:c2ln", tr.Signature)
		assert.Equal(t, "content", tr.SignedPayload())
	})
}

func TestAppendAndVerifyTrailers(t *testing.T) {
	cfg := &SecurityConfig{Checksum: ChecksumCRC32}
	frame, err := AppendTrailers("some content", cfg)
	require.NoError(t, err)
	assert.Contains(t, frame, "|CHK:")

	tr := SplitTrailing(frame)
	require.NoError(t, VerifyTrailers(tr, cfg))

	// Tampered content fails
	tr.Content = "Some content"
	require.Error(t, VerifyTrailers(tr, cfg))
}

func TestVerifyTrailersPolicy(t *testing.T) {
	t.Run("absent checksum accepted when not required", func(t *testing.T) {
		cfg := &SecurityConfig{Checksum: ChecksumCRC32}
		err := VerifyTrailers(Trailers{Content: "x"}, cfg)
		assert.NoError(t, err)
	})

	t.Run("absent checksum rejected when required", func(t *testing.T) {
		cfg := &SecurityConfig{Checksum: ChecksumCRC32, RequireChecksum: true}
		err := VerifyTrailers(Trailers{Content: "x"}, cfg)
		assert.Error(t, err)
	})

	t.Run("volunteered crc32 verified under permissive config", func(t *testing.T) {
		crc := &SecurityConfig{Checksum: ChecksumCRC32}
		seg := ChecksumSegment("hello", crc)

		err := VerifyTrailers(Trailers{Content: "hello", Checksum: seg}, DefaultSecurityConfig())
		assert.NoError(t, err)

		err = VerifyTrailers(Trailers{Content: "hellp", Checksum: seg}, DefaultSecurityConfig())
		assert.Error(t, err)
	})
}

func TestSignatureRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := &SecurityConfig{
		SignatureScheme: "RSA",
		PrivateKey:      key,
		PublicKey:       &key.PublicKey,
	}
	require.NoError(t, cfg.Validate())

	frame, err := AppendTrailers("signed content", cfg)
	require.NoError(t, err)
	assert.Contains(t, frame, "|SIG:RSA:")

	tr := SplitTrailing(frame)
	require.NoError(t, VerifyTrailers(tr, cfg))

	// Altering the content invalidates the signature
	tr.Content = "Signed content"
	require.Error(t, VerifyTrailers(tr, cfg))
}

func TestSignatureCoversChecksum(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := &SecurityConfig{
		Checksum:        ChecksumCRC32,
		SignatureScheme: "RSA",
		PrivateKey:      key,
		PublicKey:       &key.PublicKey,
	}

	frame, err := AppendTrailers("content", cfg)
	require.NoError(t, err)

	tr := SplitTrailing(frame)
	require.NoError(t, VerifyTrailers(tr, cfg))

	// Swapping the CHK segment breaks the signature even when the new CHK
	// would itself verify: SIG covers content plus CHK.
	tr.Checksum = ChecksumSegment(tr.Content, cfg)
	require.NoError(t, VerifyTrailers(tr, cfg)) // unchanged checksum still passes

	tr.Checksum = "CHK:00000000"
	require.Error(t, VerifyTrailers(tr, cfg))
}

func TestSignatureED25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := &SecurityConfig{
		SignatureScheme: "ED25519",
		PrivateKey:      priv,
		PublicKey:       pub,
	}

	frame, err := AppendTrailers("datagram", cfg)
	require.NoError(t, err)
	assert.Contains(t, frame, "|SIG:ED25519:")

	require.NoError(t, VerifyTrailers(SplitTrailing(frame), cfg))
}

func TestSignatureDisabledRejectsTrailer(t *testing.T) {
	err := VerifySignatureSegment("payload", "SIG:RSA:c2ln", DefaultSecurityConfig())
	assert.Error(t, err)
}

func TestSignatureMissingWhenRequired(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := &SecurityConfig{SignatureScheme: "RSA", PublicKey: &key.PublicKey}
	err = VerifySignatureSegment("payload", "", cfg)
	assert.Error(t, err)
}

func TestSchemeRegistryLookup(t *testing.T) {
	reg := NewSchemeRegistry()

	s, err := reg.Lookup("rsa")
	require.NoError(t, err)
	assert.Equal(t, "RSA", s.Name())

	_, err = reg.Lookup("GPG")
	assert.Error(t, err)
}

func TestSecurityConfigValidate(t *testing.T) {
	t.Run("hmac requires key", func(t *testing.T) {
		cfg := &SecurityConfig{Checksum: ChecksumHMAC}
		assert.Error(t, cfg.Validate())
	})

	t.Run("signing requires keys", func(t *testing.T) {
		cfg := &SecurityConfig{SignatureScheme: "RSA"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown scheme", func(t *testing.T) {
		cfg := &SecurityConfig{SignatureScheme: "GPG", PrivateKey: struct{}{}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("nil is valid", func(t *testing.T) {
		var cfg *SecurityConfig
		assert.NoError(t, cfg.Validate())
	})
}

func TestWhitelist(t *testing.T) {
	cfg := &SecurityConfig{Whitelist: map[string]struct{}{"Calculator": {}}}
	assert.True(t, cfg.WhitelistAllows("Calculator"))
	assert.False(t, cfg.WhitelistAllows("Echo"))

	open := DefaultSecurityConfig()
	assert.True(t, open.WhitelistAllows("anything"))
}

func TestIsValidClassName(t *testing.T) {
	valid := []string{"Calculator", "com.example.Calculator", "_Impl", "$Proxy", "a.b.c"}
	for _, name := range valid {
		assert.True(t, IsValidClassName(name), name)
	}

	invalid := []string{"", "com..example", "a/b", "a<b>", "1abc", "a.", ".a", "a-b"}
	for _, name := range invalid {
		assert.False(t, IsValidClassName(name), name)
	}
}

func TestIsValidMethodName(t *testing.T) {
	assert.True(t, IsValidMethodName("add"))
	assert.True(t, IsValidMethodName("_private"))
	assert.True(t, IsValidMethodName("method2"))

	assert.False(t, IsValidMethodName(""))
	assert.False(t, IsValidMethodName("a.b"))
	assert.False(t, IsValidMethodName("do thing"))
	assert.False(t, IsValidMethodName("1st"))
}
