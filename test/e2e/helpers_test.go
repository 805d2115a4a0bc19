package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bedrocktools/bedrock-sync/internal/drive"
	"github.com/bedrocktools/bedrock-sync/internal/state"
	"github.com/bedrocktools/bedrock-sync/internal/worlds"
	"github.com/stretchr/testify/require"
)

// fakeObject is one remote file with metadata and content, mirroring
// the wire shapes the real API serves.
type fakeObject struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// fakeDriveServer is an in-memory remote store spoken to over real
// HTTP, covering the API subset the client uses: id generation,
// listing, create, delete, media download, and multipart update.
type fakeDriveServer struct {
	mu      sync.Mutex
	objects []fakeObject
	content map[string][]byte
	nextID  int
}

func newFakeDriveServer() *fakeDriveServer {
	return &fakeDriveServer{content: make(map[string][]byte)}
}

func (f *fakeDriveServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// The client targets the real API hosts; the rewriting transport
	// preserves the paths.
	path := strings.TrimPrefix(r.URL.Path, "/upload")
	path = strings.TrimPrefix(path, "/drive/v3")

	switch {
	case r.Method == http.MethodGet && path == "/files/generateIds":
		f.nextID++
		fmt.Fprintf(w, `{"ids":["e2e-%d"]}`, f.nextID)

	case r.Method == http.MethodGet && path == "/files":
		resp, _ := json.Marshal(map[string]any{"files": f.objects})
		w.Write(resp)

	case r.Method == http.MethodPost && path == "/files":
		var obj fakeObject

		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.objects = append(f.objects, obj)
		w.Write([]byte(`{}`))

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/files/"):
		id := strings.TrimPrefix(path, "/files/")

		kept := f.objects[:0]

		for _, obj := range f.objects {
			if obj.ID != id {
				kept = append(kept, obj)
			}
		}

		f.objects = kept
		delete(f.content, id)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/files/"):
		id := strings.TrimPrefix(path, "/files/")

		content, ok := f.content[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"content not found"}}`)

			return
		}

		w.Write(content)

	case r.Method == http.MethodPatch && strings.HasPrefix(path, "/files/"):
		id := strings.TrimPrefix(path, "/files/")

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mr := multipart.NewReader(r.Body, params["boundary"])

		metaPart, err := mr.NextPart()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		meta, _ := io.ReadAll(metaPart)

		var update fakeObject
		if err := json.Unmarshal(meta, &update); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mediaPart, err := mr.NextPart()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		media, _ := io.ReadAll(mediaPart)

		for i := range f.objects {
			if f.objects[i].ID != id {
				continue
			}

			f.objects[i].Name = update.Name
			f.objects[i].Description = update.Description
			f.objects[i].MimeType = update.MimeType
			f.content[id] = media
			w.Write([]byte(`{}`))

			return
		}

		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"file not found"}}`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDriveServer) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.objects)
}

// rewriteTransport redirects every request to the fake server while
// keeping the original path, so the production client runs unmodified
// against its real endpoint URLs.
type rewriteTransport struct {
	target *url.URL
	inner  http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.target.Scheme
	clone.URL.Host = t.target.Host

	return t.inner.RoundTrip(clone)
}

// harness wires the full stack: a local worlds folder, a fake remote
// behind real HTTP, persistent state, and the reconciler and syncer on
// top.
type harness struct {
	store      *worlds.Store
	remote     *drive.Client
	state      *state.State
	reconciler *worlds.Reconciler
	syncer     *worlds.Syncer
	server     *fakeDriveServer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fake := newFakeDriveServer()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	httpClient := &http.Client{Transport: &rewriteTransport{
		target: target,
		inner:  http.DefaultTransport,
	}}

	store, err := worlds.NewStore(filepath.Join(t.TempDir(), "minecraftWorlds"))
	require.NoError(t, err)

	appState, err := state.Load(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = appState.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	remote := drive.NewClient(httpClient)

	return &harness{
		store:      store,
		remote:     remote,
		state:      appState,
		reconciler: worlds.NewReconciler(store, remote, logger),
		syncer:     worlds.NewSyncer(store, remote, appState, logger),
		server:     fake,
	}
}

// addLocalWorld writes a world folder with a level name and some data
// files.
func (h *harness) addLocalWorld(t *testing.T, id, name string, files map[string][]byte) {
	t.Helper()

	dir := filepath.Join(h.store.Dir(), id)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, worlds.LevelNameFile), []byte(name+"\n"), 0o644))

	for rel, content := range files {
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, content, 0o644))
	}
}

// catalog rebuilds the catalog and persists the snapshot, the way the
// CLI does after every command.
func (h *harness) catalog(t *testing.T) []worlds.WorldEntry {
	t.Helper()

	entries, err := h.reconciler.Build(t.Context())
	require.NoError(t, err)

	snapshot := make([]state.World, 0, len(entries))
	for _, e := range entries {
		snapshot = append(snapshot, state.World{
			ID:          e.ID,
			DisplayName: e.DisplayName,
			Status:      e.Status.String(),
		})
	}
	require.NoError(t, h.state.SaveCatalog(snapshot))

	return entries
}

// localFiles snapshots a world folder's files relative to its root.
func (h *harness) localFiles(t *testing.T, id string) map[string][]byte {
	t.Helper()

	root := filepath.Join(h.store.Dir(), id)
	files := make(map[string][]byte)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		files[filepath.ToSlash(rel)] = content

		return nil
	})
	require.NoError(t, err)

	return files
}
