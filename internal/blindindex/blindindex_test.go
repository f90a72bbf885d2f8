package blindindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneSurfaceFormsDeriveIdentically(t *testing.T) {
	d := NewDeriver("test-pepper")

	want, ok := d.Derive(KindPhone, "79161234567")
	require.True(t, ok)

	surfaces := []string{
		"+7 916 123-45-67",
		"89161234567",
		"8 (916) 123-45-67",
		"9161234567",
		"7-916-123-45-67",
	}
	for _, s := range surfaces {
		got, ok := d.Derive(KindPhone, s)
		require.True(t, ok, "surface %q", s)
		assert.Equal(t, want, got, "surface %q", s)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+7 916 123-45-67": "79161234567",
		"89161234567":      "79161234567",
		"9161234567":       "79161234567",
		"abc":              "",
		"":                 "",
		"8916123456789012": "79161234567", // excess digits capped
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}

func TestEmailNormalization(t *testing.T) {
	d := NewDeriver("test-pepper")

	a, ok := d.Derive(KindEmail, " Ivan.Petrov@Example.COM ")
	require.True(t, ok)
	b, ok := d.Derive(KindEmail, "ivan.petrov@example.com")
	require.True(t, ok)
	assert.Equal(t, a, b)

	c, ok := d.Derive(KindEmail, "other@example.com")
	require.True(t, ok)
	assert.NotEqual(t, a, c)
}

func TestMessengerNormalization(t *testing.T) {
	d := NewDeriver("test-pepper")

	a, ok := d.Derive(KindMessenger, "  123456789 ")
	require.True(t, ok)
	b, ok := d.Derive(KindMessenger, "123456789")
	require.True(t, ok)
	assert.Equal(t, a, b)
}

func TestAbsenceIsNeverIndexed(t *testing.T) {
	d := NewDeriver("test-pepper")

	for _, kind := range []Kind{KindPhone, KindEmail, KindMessenger} {
		_, ok := d.Derive(kind, "")
		assert.False(t, ok, "kind %s", kind)
		_, ok = d.Derive(kind, "   ")
		assert.False(t, ok, "kind %s", kind)
	}
}

func TestNoPepperDisablesIndexing(t *testing.T) {
	d := NewDeriver("")

	assert.False(t, d.Enabled())
	_, ok := d.Derive(KindPhone, "79161234567")
	assert.False(t, ok)
}

func TestTokensAreHexAndKeyed(t *testing.T) {
	d1 := NewDeriver("pepper-one")
	d2 := NewDeriver("pepper-two")

	t1, ok := d1.Derive(KindPhone, "79161234567")
	require.True(t, ok)
	t2, ok := d2.Derive(KindPhone, "79161234567")
	require.True(t, ok)

	assert.Len(t, t1, 64)
	assert.NotEqual(t, t1, t2, "tokens must depend on the pepper")
}

func TestMatchOrderIsPhoneEmailMessenger(t *testing.T) {
	require.Equal(t, []Kind{KindPhone, KindEmail, KindMessenger}, MatchOrder)
}
