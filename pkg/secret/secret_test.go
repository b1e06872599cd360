package secret

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Sternrassler/airtable-client/pkg/logging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	value string
	err   error
	calls int32
	gotID string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	atomic.AddInt32(&f.calls, 1)
	f.gotID = aws.ToString(in.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.value)}, nil
}

func TestStatic(t *testing.T) {
	key, err := Static("patABC").APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "patABC", key)

	_, err = Static("  ").APIKey(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestParseSecretString(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "raw", in: "patXYZ.123", want: "patXYZ.123"},
		{name: "raw with whitespace", in: "  patXYZ\n", want: "patXYZ"},
		{name: "json", in: `{"apiKey":"patJSON"}`, want: "patJSON"},
		{name: "json extra members", in: `{"apiKey":"patJSON","baseId":"app1"}`, want: "patJSON"},
		{name: "empty", in: "", wantErr: ErrNoAPIKey},
		{name: "json without key", in: `{"token":"x"}`, wantErr: ErrInvalidSecret},
		{name: "broken json", in: `{"apiKey":`, wantErr: ErrInvalidSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSecretString(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSecretFetcher(t *testing.T) {
	client := &fakeSecretsManager{value: `{"apiKey":"patFetched"}`}
	f := secretFetcher{client: client, secretID: "prod/airtable"}

	key, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "patFetched", key)
	assert.Equal(t, "prod/airtable", client.gotID)
}

func TestSecretFetcher_LogsWithSecretComponent(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	logging.Setup(logging.Config{Level: logging.LevelDebug, Output: &buf})

	f := secretFetcher{client: &fakeSecretsManager{value: "patRaw"}, secretID: "prod/airtable"}
	_, err := f.Fetch(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"component":"`+logging.ComponentSecret+`"`)
	assert.NotContains(t, buf.String(), "patRaw")
}

func TestSecretFetcher_Error(t *testing.T) {
	denied := errors.New("access denied")
	f := secretFetcher{client: &fakeSecretsManager{err: denied}, secretID: "x"}

	_, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, denied)
}

func TestNewSecretsManagerProvider_Validation(t *testing.T) {
	_, err := NewSecretsManagerProvider(SecretsManagerParams{SecretID: "x"})
	assert.Error(t, err, "missing client")

	_, err = NewSecretsManagerProvider(SecretsManagerParams{Client: &fakeSecretsManager{}})
	assert.Error(t, err, "missing secret id")
}

func TestSecretsManagerProvider_CachesValue(t *testing.T) {
	client := &fakeSecretsManager{value: "patCached"}
	p, err := NewSecretsManagerProvider(SecretsManagerParams{Client: client, SecretID: "airtable"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := p.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "patCached", key)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.calls))
}
