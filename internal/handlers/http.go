package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"capdissector/internal/capture"
	"capdissector/internal/engine"
	"capdissector/internal/models"
	"capdissector/internal/packet"
)

// API serves the engine's frames over HTTP and WebSocket.
type API struct {
	eng           *engine.Engine
	log           *zap.Logger
	maxUploadSize int64
}

// NewAPI creates the handlers. maxUploadMB bounds uploaded capture files.
func NewAPI(eng *engine.Engine, log *zap.Logger, maxUploadMB int) *API {
	return &API{eng: eng, log: log, maxUploadSize: int64(maxUploadMB) << 20}
}

// RegisterRoutes sets up all HTTP routes on the given router.
func (a *API) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", a.handleWebSocket)
	r.HandleFunc("/api/upload", a.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/frames", a.handleFrames).Methods(http.MethodGet)
	r.HandleFunc("/api/frames/{number:[0-9]+}", a.handleFrameDocument).Methods(http.MethodGet)
	r.HandleFunc("/api/frames/{number:[0-9]+}/fields", a.handleFrameFields).Methods(http.MethodGet)
	r.HandleFunc("/api/frames/{number:[0-9]+}/blobs/{name}", a.handleFrameBlob).Methods(http.MethodGet)
	r.HandleFunc("/api/flows", a.handleFlows).Methods(http.MethodGet)
}

// Router returns a router with every route registered.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	a.RegisterRoutes(r)
	return r
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadSize)
	if err := r.ParseMultipartForm(a.maxUploadSize); err != nil {
		http.Error(w, "file too large (max "+strconv.FormatInt(a.maxUploadSize>>20, 10)+"MB)", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// The capture reader works on paths, so spool the upload to disk
	tmpFile, err := os.CreateTemp("", "capdissector-*.pcap")
	if err != nil {
		a.log.Error("create temp file", zap.Error(err))
		http.Error(w, "failed to create temp file", http.StatusInternalServerError)
		return
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmpFile, file); err != nil {
		tmpFile.Close()
		http.Error(w, "failed to save file", http.StatusInternalServerError)
		return
	}
	tmpFile.Close()

	// Stop any active capture before loading the file
	a.eng.StopCapture()

	a.log.Info("loading uploaded capture", zap.String("filename", header.Filename), zap.Int64("size", header.Size))
	if err := a.eng.LoadPcapFile(tmpPath); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrCapFile) {
			status = http.StatusBadRequest
		}
		http.Error(w, "failed to read capture: "+err.Error(), status)
		return
	}

	writeJSON(w, a.eng.Frames())
}

func (a *API) handleFrames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.eng.Frames())
}

func (a *API) handleFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.eng.Flows())
}

func (a *API) handleFrameDocument(w http.ResponseWriter, r *http.Request) {
	var doc []byte
	err := a.withFrame(r, func(p *packet.Packet) (err error) {
		doc, err = p.Document()
		return err
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(doc)
}

func (a *API) handleFrameFields(w http.ResponseWriter, r *http.Request) {
	q := models.FieldQuery{Name: r.URL.Query().Get("name")}
	if s := r.URL.Query().Get("parent"); s != "" {
		parent, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "parent must be a field ordinal", http.StatusBadRequest)
			return
		}
		q.Parent = &parent
	}

	var fields []models.FieldInfo
	err := a.withFrame(r, func(p *packet.Packet) (err error) {
		q.Number = p.Number()
		fields, err = findFields(p, q)
		return err
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, models.FieldQueryResult{Number: q.Number, Fields: fields})
}

func (a *API) handleFrameBlob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var data []byte
	err := a.withFrame(r, func(p *packet.Packet) error {
		b, ok := p.Blobs()[name]
		if !ok {
			return errors.Wrapf(errNoBlob, "%q", name)
		}
		data = b.Data
		return nil
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (a *API) withFrame(r *http.Request, fn func(*packet.Packet) error) error {
	n, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil {
		return errors.Wrap(engine.ErrNoFrame, err.Error())
	}
	return a.eng.Frame(n, fn)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoFrame), errors.Is(err, errNoBlob), errors.Is(err, errNoParent):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		a.log.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
