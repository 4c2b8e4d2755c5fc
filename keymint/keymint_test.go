package keymint_test

import (
	"errors"
	"testing"

	"github.com/hotmeshio/hotmesh-go/keymint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMint_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		kind keymint.Kind
		p    keymint.Params
		want string
	}{
		{"global", keymint.KindGlobal, keymint.Params{}, "hmsh"},
		{"app", keymint.KindApp, keymint.Params{AppID: "abc"}, "hmsh:a:abc"},
		{"throttle", keymint.KindThrottle, keymint.Params{AppID: "abc"}, "hmsh:abc:r:"},
		{"workqueue-no-scout", keymint.KindWorkQueue, keymint.Params{AppID: "abc"}, "hmsh:abc:w"},
		{"workqueue-scout", keymint.KindWorkQueue, keymint.Params{AppID: "abc", ScoutType: "time"}, "hmsh:abc:w:time"},
		{"time-bucket", keymint.KindTimeBucket, keymint.Params{AppID: "abc", TimeValue: "1700000000"}, "hmsh:abc:t:1700000000"},
		{"quorum-broadcast", keymint.KindQuorum, keymint.Params{AppID: "abc"}, "hmsh:abc:q"},
		{"quorum-engine", keymint.KindQuorum, keymint.Params{AppID: "abc", EngineID: "e1"}, "hmsh:abc:q:e1"},
		{"job", keymint.KindJob, keymint.Params{AppID: "abc", JobID: "j1"}, "hmsh:abc:j:j1"},
		{"stream-topic", keymint.KindStream, keymint.Params{AppID: "abc", Topic: "abc.test"}, "hmsh:abc:x:abc.test"},
		{"hooks", keymint.KindHooks, keymint.Params{AppID: "abc"}, "hmsh:abc:hooks"},
		{"signals", keymint.KindSignals, keymint.Params{AppID: "abc"}, "hmsh:abc:signals"},
		{"sym-keys-activity", keymint.KindSymbolKeys, keymint.Params{AppID: "abc", ActivityID: "a1"}, "hmsh:abc:sym:keys:a1"},
		{"sym-keys-subscribes", keymint.KindSymbolKeys, keymint.Params{AppID: "abc", Subscribes: "$subscribes"}, "hmsh:abc:sym:keys:$subscribes"},
		{"sym-vals", keymint.KindSymbolVals, keymint.Params{AppID: "abc"}, "hmsh:abc:sym:vals:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := keymint.Mint("hmsh", tt.kind, tt.p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMint_UnknownKind(t *testing.T) {
	_, err := keymint.Mint("hmsh", keymint.Kind(999), keymint.Params{})
	assert.True(t, errors.Is(err, keymint.ErrUnknownKind))
}

func TestParse_RoundTrip(t *testing.T) {
	key, err := keymint.Mint("hmsh", keymint.KindJob, keymint.Params{AppID: "abc", JobID: "j1"})
	require.NoError(t, err)

	parsed, err := keymint.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, "hmsh", parsed.Namespace)
	assert.Equal(t, "abc", parsed.AppID)
	assert.Equal(t, "jobs", parsed.Entity)
	assert.Equal(t, "j1", parsed.ID)
}

func TestParse_Application(t *testing.T) {
	parsed, err := keymint.Parse("hmsh:a:abc")
	require.NoError(t, err)
	assert.Equal(t, "applications", parsed.Entity)
	assert.Equal(t, "abc", parsed.ID)
}

func TestParse_Global(t *testing.T) {
	parsed, err := keymint.Parse("hmsh")
	require.NoError(t, err)
	assert.Equal(t, "global", parsed.Entity)
}

func TestParse_InvalidAbbrev(t *testing.T) {
	_, err := keymint.Parse("hmsh:abc:zzz:whatever")
	assert.True(t, errors.Is(err, keymint.ErrInvalidKey))
}
