package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/keyreply/internal/reply"
	"github.com/memohai/keyreply/internal/settings"
)

type failingPersister struct{ fail bool }

func (p *failingPersister) Load(context.Context) (settings.Settings, bool, error) {
	return settings.Settings{}, false, nil
}

func (p *failingPersister) Save(context.Context, settings.Settings) error {
	if p.fail {
		return errors.New("disk full")
	}
	return nil
}

func newSettingsAPI(t *testing.T) (*echo.Echo, *settings.Store, *failingPersister) {
	t.Helper()
	persister := &failingPersister{}
	store := settings.NewStore(discardLogger(), persister)
	require.NoError(t, store.Replace(context.Background(), testSettings()))
	engine := reply.NewEngine(discardLogger(), store, reply.EngineOptions{})
	e := echo.New()
	NewSettingsHandler(discardLogger(), store, engine).Register(e)
	return e, store, persister
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeSettings(t *testing.T, rec *httptest.ResponseRecorder) SettingsResponse {
	t.Helper()
	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSettingsGet(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	rec := doJSON(e, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSettings(t, rec)
	assert.Equal(t, store.Version(), resp.Version)
	assert.True(t, resp.Settings.Equal(testSettings()))
}

func TestSettingsReplaceValidation(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	before := store.Version()
	body := `{"keywords":["x"],"senders":{"a":{"id":"a","delivery_mode":"loud","template_choice":"ar"}},"default_template_ar":"a","default_template_en":"b"}`
	rec := doJSON(e, http.MethodPut, "/api/settings", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, store.Version(), "rejected replace must not change the live settings")
}

func TestSettingsPersistFailureStillApplies(t *testing.T) {
	t.Parallel()

	e, store, persister := newSettingsAPI(t)
	persister.fail = true
	rec := doJSON(e, http.MethodPost, "/api/settings/keywords", `{"keyword":"price"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp PersistFailureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Applied)
	assert.Contains(t, resp.Message, "disk full")
	assert.Equal(t, []string{"help", "price"}, store.Get().Keywords)
}

func TestSettingsKeywordEdits(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	rec := doJSON(e, http.MethodPost, "/api/settings/keywords", `{"keyword":"مساعدة"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"help", "مساعدة"}, decodeSettings(t, rec).Settings.Keywords)

	rec = doJSON(e, http.MethodPost, "/api/settings/keywords", `{"keyword":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodDelete, "/api/settings/keywords/"+url.PathEscape("مساعدة"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"help"}, store.Get().Keywords)

	rec = doJSON(e, http.MethodDelete, "/api/settings/keywords/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsSenderEdits(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	rec := doJSON(e, http.MethodPut, "/api/settings/senders/"+url.PathEscape("+777"), `{"display_name":"Shop","delivery_mode":"private","template_choice":"custom","custom_template":"Yo {user}"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rule, ok := store.Get().Senders["+777"]
	require.True(t, ok)
	assert.Equal(t, settings.SenderRule{ID: "+777", DisplayName: "Shop", DeliveryMode: settings.Direct, TemplateChoice: settings.TemplateCustom, CustomTemplate: "Yo {user}"}, rule)

	rec = doJSON(e, http.MethodPut, "/api/settings/senders/x", `{"delivery_mode":"loud"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodDelete, "/api/settings/senders/"+url.PathEscape("+777"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = store.Get().Senders["+777"]
	assert.False(t, ok)

	rec = doJSON(e, http.MethodDelete, "/api/settings/senders/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsTemplates(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	rec := doJSON(e, http.MethodPut, "/api/settings/templates", `{"default_template_en":"Hello {user}"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := store.Get()
	assert.Equal(t, "Hello {user}", got.DefaultTemplateEn)
	assert.Equal(t, "أهلاً {user}", got.DefaultTemplateAr)
}

func TestSettingsPreviewAndStats(t *testing.T) {
	t.Parallel()

	e, _, _ := newSettingsAPI(t)
	rec := doJSON(e, http.MethodPost, "/api/settings/preview", `{"sender":"whatsapp:+999","text":"HELP me"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var preview PreviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.True(t, preview.Matched)
	assert.Equal(t, "Hi whatsapp:+999", preview.Decision.Template)
	assert.Equal(t, settings.Direct, preview.Decision.DeliveryMode)

	rec = doJSON(e, http.MethodPost, "/api/settings/preview", `{"sender":"x","text":"nothing"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.False(t, preview.Matched)

	rec = doJSON(e, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats reply.StatsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, reply.StatsSnapshot{}, stats, "preview must not count as traffic")
}

func TestSettingsEditsWithLegacyBlankIDRule(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	legacy, _, err := settings.FromRecord(settings.Record{
		Keywords: []string{"help"},
		Senders:  []settings.RuleRecord{{ID: "", Name: "New Group"}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Install(legacy))

	rec := doJSON(e, http.MethodPost, "/api/settings/keywords", `{"keyword":"price"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"help", "price"}, store.Get().Keywords)

	rec = doJSON(e, http.MethodDelete, "/api/settings/senders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodDelete, "/api/settings/senders?id=", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, ok := store.Get().Senders[""]
	assert.False(t, ok)

	rec = doJSON(e, http.MethodDelete, "/api/settings/senders?id=", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsRemoveKeywordWithPercent(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	rec := doJSON(e, http.MethodPost, "/api/settings/keywords", `{"keyword":"off%25"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodDelete, "/api/settings/keywords/"+url.PathEscape("off%25"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"help"}, store.Get().Keywords)
}

func TestSettingsResponseVersionMatchesStore(t *testing.T) {
	t.Parallel()

	e, store, _ := newSettingsAPI(t)
	rec := doJSON(e, http.MethodPut, "/api/settings/templates", `{"default_template_en":"Hello {user}"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSettings(t, rec)
	current, version := store.Snapshot()
	assert.Equal(t, version, resp.Version)
	assert.True(t, current.Equal(resp.Settings))
}
