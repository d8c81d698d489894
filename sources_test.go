package nodescan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSourcesConfig() SourcesConfig {
	return SourcesConfig{Timeout: 2 * time.Second, RetryMax: 0}
}

func newTestSource(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("User-Agent") != userAgent {
			http.Error(w, "missing user agent", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestStakewizClient(t *testing.T) {
	t.Parallel()

	ts := newTestSource(t, map[string]string{
		"/validator/" + testVote:                    `{"identity":"Node1","vote_identity":"` + testVote + `","name":"Certus One","activated_stake":1234.5,"commission":7,"uptime":99.9}`,
		"/validator/" + testVote + "/stake":         `{"activated_stake":1234.5,"activating_stake":10,"deactivating_stake":2}`,
		"/validator/" + testVote + "/stake_history": `[{"epoch":701,"stake":1200,"date":"2024-12-03"},{"epoch":700,"stake":1100}]`,
		"/validators":                               `[{"vote_identity":"` + testVote + `","name":"Certus One"}]`,
	})
	client := NewStakewizClient(ts.URL, testSourcesConfig(), nil, zap.NewNop())
	ctx := context.Background()

	validator, err := client.Validator(ctx, testVote)
	require.NoError(t, err)
	assert.Equal(t, "Certus One", validator.Name)
	assert.Equal(t, 1234.5, validator.ActivatedStake)

	stake, err := client.Stake(ctx, testVote)
	require.NoError(t, err)
	assert.Equal(t, 10.0, stake.ActivatingStake)

	history, err := client.StakeHistory(ctx, testVote)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, time.Date(2024, 12, 3, 0, 0, 0, 0, time.UTC), history[0].Date)
	assert.Equal(t, estimateEpochDate(700), history[1].Date)

	all, err := client.Validators(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = client.Validator(ctx, unknownVote)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRESTClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"activated_stake":5}`)
	}))
	t.Cleanup(ts.Close)

	cfg := testSourcesConfig()
	cfg.RetryMax = 1
	client := NewStakewizClient(ts.URL, cfg, nil, zap.NewNop())

	stake, err := client.Stake(context.Background(), testVote)
	require.NoError(t, err)
	assert.Equal(t, 5.0, stake.ActivatedStake)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSolscanClientScrapesMetaTags(t *testing.T) {
	t.Parallel()

	page := `<!doctype html><html><head>
		<meta property="og:title" content="Certus One | Solscan">
		<meta name="twitter:image" content="https://img.test/certus.png">
		<meta property="og:see_also" content="https://certus.one">
	</head><body></body></html>`
	ts := newTestSource(t, map[string]string{
		"/validator/" + testVote:                   page,
		"/api/validator/" + testVote + "/stake":    `{"success":true,"data":{"activatedStake":"2500000000000"}}`,
		"/api/validator/" + unknownVote + "/stake": `{"success":false,"data":{}}`,
		"/validator/" + unknownVote:                `<html><head><title>Solscan</title></head></html>`,
	})
	client := NewSolscanClient(ts.URL, testSourcesConfig(), nil, zap.NewNop())
	ctx := context.Background()

	profile, err := client.Profile(ctx, testVote)
	require.NoError(t, err)
	assert.Equal(t, &SolscanProfile{Name: "Certus One", Logo: "https://img.test/certus.png", Website: "https://certus.one"}, profile)

	stake, err := client.TotalStake(ctx, testVote)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, stake)

	_, err = client.Profile(ctx, unknownVote)
	assert.ErrorIs(t, err, ErrNoData)
	_, err = client.TotalStake(ctx, unknownVote)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestParseSolscanProfileRegexFallback(t *testing.T) {
	t.Parallel()

	page := `<html><head><meta property="og:title" content="Validator | Solscan"></head><body>
		<script id="__NEXT_DATA__">{"props":{"validatorName":"Everstake","avatar":"https://img.test/e.png","website":"https://everstake.one"}}</script>
	</body></html>`

	profile := parseSolscanProfile([]byte(page))
	assert.Equal(t, "Everstake", profile.Name)
	assert.Equal(t, "https://img.test/e.png", profile.Logo)
	assert.Equal(t, "https://everstake.one", profile.Website)
}

func TestSolanaFMClient(t *testing.T) {
	t.Parallel()

	ts := newTestSource(t, map[string]string{
		"/v0/validators/" + testVote:              `{"status":"success","result":{"votePubkey":"` + testVote + `","nodePubkey":"Node1","name":"Certus","activatedStake":3000000000000,"commission":8}}`,
		"/v0/validators/" + testVote + "/history": `{"status":"success","result":[{"epoch":700,"activatedStake":"1000000000000","timestamp":"2024-12-01T00:00:00Z"}]}`,
		"/v0/epochs":                              `{"status":"success","result":[{"epoch":799,"slotIndex":431999,"slotsInEpoch":432000},{"epoch":800,"slotIndex":1000,"slotsInEpoch":432000,"absoluteSlot":345601000}]}`,
	})
	client := NewSolanaFMClient(ts.URL, testSourcesConfig(), nil, zap.NewNop())
	ctx := context.Background()

	validator, err := client.Validator(ctx, testVote)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, validator.ActivatedStake)
	assert.Equal(t, 8, validator.Commission)

	history, err := client.StakeHistory(ctx, testVote)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1000.0, history[0].Stake)

	epoch, err := client.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), epoch.Epoch)
	assert.Equal(t, 431000*approxSlotDuration, epoch.TimeRemaining)

	_, err = client.Validator(ctx, unknownVote)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStakewizClientReadsLargeValidatorList(t *testing.T) {
	t.Parallel()

	var list strings.Builder
	list.WriteString("[")
	for i := 0; list.Len() <= maxHTMLBytes+(512<<10); i++ {
		fmt.Fprintf(&list, `{"vote_identity":"Vote%06d","name":"Validator number %06d with a fairly long description"},`, i, i)
	}
	list.WriteString(`{"vote_identity":"` + testVote + `","name":"Certus One"}]`)

	ts := newTestSource(t, map[string]string{"/validators": list.String()})
	client := NewStakewizClient(ts.URL, testSourcesConfig(), nil, zap.NewNop())

	all, err := client.Validators(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, testVote, all[len(all)-1].VoteIdentity)
}

func TestRESTClientRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	ts := newTestSource(t, map[string]string{
		"/validators":            `[{"vote_identity":"` + testVote + `","name":"Certus One"}]`,
		"/validator/" + testVote: "<html><head>" + strings.Repeat("<meta name=\"x\" content=\"y\">", 64) + "</head></html>",
	})

	stakewiz := NewStakewizClient(ts.URL, testSourcesConfig(), nil, zap.NewNop())
	stakewiz.rest.maxJSON = 16
	_, err := stakewiz.Validators(context.Background())
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	solscan := NewSolscanClient(ts.URL, testSourcesConfig(), nil, zap.NewNop())
	solscan.rest.maxHTML = 128
	_, err = solscan.Profile(context.Background(), testVote)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}
