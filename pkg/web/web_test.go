package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/lawfit/internal/controller"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/gateway"
	"github.com/kacperjurak/lawfit/pkg/server"
)

const (
	featureCSV = "main_id,a,b,c\n1,1,10,5\n2,2,20,5\n3,3,30,5\n4,4,40,7\n5,5,50,7\n6,6,60,7\n"
	targetCSV  = "main_id,y\n1,3\n2,5\n3,7\n4,9\n5,11\n6,13\n"
)

type harness struct {
	ui     *httptest.Server
	ctrl   *controller.Controller
	client *http.Client
}

// newHarness wires the page to a controller talking to a real backend.
func newHarness(t *testing.T) *harness {
	t.Helper()
	backendCfg := config.DefaultConfig()
	backendCfg.DataDir = t.TempDir()
	backendCfg.Quiet = true
	backendCfg.WorkerCount = 2
	backend, err := server.New(server.Options{Config: backendCfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Shutdown(context.Background()) })
	bs := httptest.NewServer(backend.Handler())
	t.Cleanup(bs.Close)

	uiCfg := config.DefaultUIConfig()
	uiCfg.Quiet = true
	ctrl := controller.New(gateway.NewClient(bs.URL, uiCfg), controller.Options{Quiet: true})
	s, err := New(uiCfg, ctrl)
	require.NoError(t, err)
	ui := httptest.NewServer(s.Handler())
	t.Cleanup(ui.Close)

	return &harness{ui: ui, ctrl: ctrl, client: ui.Client()}
}

func (h *harness) post(t *testing.T, path string, form url.Values) string {
	t.Helper()
	resp, err := h.client.PostForm(h.ui.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Request.URL.Path)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func (h *harness) upload(t *testing.T, role, filename, data string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("role", role))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, _ = part.Write([]byte(data))
	require.NoError(t, mw.Close())

	resp, err := h.client.Post(h.ui.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func (h *harness) plot(t *testing.T) plotView {
	t.Helper()
	resp, err := h.client.Get(h.ui.URL + "/plot.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	var p plotView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestIndexRendersEmptySession(t *testing.T) {
	h := newHarness(t)
	resp, err := h.client.Get(h.ui.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	page := string(body)
	assert.Contains(t, page, `id="matrix-placeholder"`)
	assert.Contains(t, page, "Exp_Decay")
	assert.NotContains(t, page, `id="features"`)
	assert.False(t, h.plot(t).Visible)
}

func TestUploadRejectsUnknownRole(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("role", "other"))
	require.NoError(t, mw.Close())

	resp, err := h.client.Post(h.ui.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionFlow(t *testing.T) {
	h := newHarness(t)

	page := h.upload(t, "feature", "features.csv", featureCSV)
	assert.Contains(t, page, "features.csv")
	assert.Contains(t, page, `id="features"`)
	page = h.upload(t, "target", "targets.csv", targetCSV)
	assert.Contains(t, page, `id="matrix"`)

	h.post(t, "/selection", url.Values{"header": {"a"}, "kind": {"X_axis"}})
	h.post(t, "/selection", url.Values{"header": {"b"}, "kind": {"Y_axis"}})
	h.post(t, "/constant", url.Values{"header": {"c"}, "value": {"5"}})
	assert.False(t, h.plot(t).Visible)
	h.post(t, "/target", url.Values{"target": {"y"}})
	p := h.plot(t)
	require.True(t, p.Visible, p.Error)
	assert.NotEmpty(t, p.GraphJSON)

	h.post(t, "/assignment", url.Values{"feature": {"a"}, "target": {"y"}, "function": {"Linear"}})
	page = h.post(t, "/apply", url.Values{"name": {"web demo"}})
	assert.Contains(t, page, "web_demo.json")
	assert.True(t, h.ctrl.View().Loaded)

	page = h.post(t, "/overlap", url.Values{"on": {"on"}})
	assert.Contains(t, page, `id="demo"`)
	demo := h.ctrl.View().Demo
	require.NotNil(t, demo)
	assert.InDelta(t, 0.1, demo.Targets["y"], 1e-12)

	page = h.post(t, "/learn", url.Values{"method": {"nm"}})
	assert.Contains(t, page, `id="fit"`)
	fit := h.ctrl.View().Fit
	require.NotNil(t, fit)
	require.Len(t, fit.Results, 1)
	assert.Equal(t, "y", fit.Results[0].Target)

	page = h.post(t, "/model/delete", nil)
	assert.NotContains(t, page, "web_demo.json")
	assert.False(t, h.ctrl.View().Loaded)
}

func TestInvalidFunctionShowsNotice(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "feature", "features.csv", featureCSV)
	h.upload(t, "target", "targets.csv", targetCSV)

	h.post(t, "/functions/edit", url.Values{"index": {"0"}, "name": {"f 1"}})
	page := h.post(t, "/apply", url.Values{"name": {"bad"}})
	assert.Contains(t, page, "notice-error")
	assert.Empty(t, h.ctrl.View().ModelFiles)

	page = h.post(t, "/reset", nil)
	assert.Contains(t, page, "Exp_Decay")
	assert.NotContains(t, page, "notice-error")
}

func TestDisabledControlsAreRendered(t *testing.T) {
	h := newHarness(t)
	page := h.post(t, "/overlap", url.Values{"on": {"on"}})
	assert.Contains(t, page, "notice-error")
	assert.False(t, h.ctrl.View().Overlap)

	page = h.post(t, "/functions/edit", url.Values{"index": {"x"}})
	assert.NotContains(t, page, "notice-error")
}
