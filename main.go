package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/Luzifer/rconfig/v2"

	"github.com/chatterlay/mediacache/pkg/fetch/httpsource"
	"github.com/chatterlay/mediacache/pkg/mediacache"
	"github.com/chatterlay/mediacache/pkg/storage"
	"github.com/chatterlay/mediacache/pkg/storage/gcs"
	"github.com/chatterlay/mediacache/pkg/storage/local"
	"github.com/chatterlay/mediacache/pkg/storage/memory"
)

var (
	cfg = struct {
		FetchTimeout   time.Duration `flag:"fetch-timeout" default:"0" description:"Abort a single media fetch after this duration (0 = no timeout)"`
		Listen         string        `flag:"listen" default:":3000" description:"Port/IP to listen on"`
		LogLevel       string        `flag:"log-level" default:"info" description:"Log level (debug, info, warn, error, fatal)"`
		MaxAge         time.Duration `flag:"max-age" default:"8760h" description:"Evict cache entries older than this"`
		MaxEntries     int           `flag:"max-entries" default:"1000" description:"Maximum number of cache entries to keep"`
		Storage        string        `flag:"storage" default:"local" description:"Storage backend to use (local, memory, gs://bucket/prefix)"`
		StorageDir     string        `flag:"storage-dir" default:"./data/" description:"Where to store cached files (local backend)"`
		UserAgent      string        `flag:"user-agent" default:"" description:"User-Agent to send to the origin"`
		VersionAndExit bool          `flag:"version" default:"false" description:"Prints current version and exits"`
	}{}

	cache *mediacache.Cache

	version = "dev"
)

func init() {
	rconfig.AutoEnv(true)
	if err := rconfig.ParseAndValidate(&cfg); err != nil {
		log.Fatalf("Unable to parse commandline options: %s", err)
	}

	if cfg.VersionAndExit {
		fmt.Printf("mediacached %s\n", version)
		os.Exit(0)
	}

	if l, err := log.ParseLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("Unable to parse log level")
	} else {
		log.SetLevel(l)
	}
}

func main() {
	backend, err := selectBackend()
	if err != nil {
		log.WithError(err).Fatal("Unable to create storage backend")
	}

	cache = mediacache.New(
		httpsource.New(httpsource.WithUserAgent(cfg.UserAgent)),
		backend,
		mediacache.WithMaxAge(cfg.MaxAge),
		mediacache.WithMaxEntries(cfg.MaxEntries),
		mediacache.WithFetchTimeout(cfg.FetchTimeout),
	)

	if err = cache.Initialize(context.Background()); err != nil {
		log.WithError(err).Fatal("Unable to initialize media cache")
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", handleStats).Methods(http.MethodGet)
	r.HandleFunc("/cache", handleClear).Methods(http.MethodDelete)
	r.PathPrefix("/media/").HandlerFunc(handleMedia).Methods(http.MethodGet)

	r.SkipClean(true)

	if err = http.ListenAndServe(cfg.Listen, r); err != nil {
		log.WithError(err).Fatal("HTTP server exited")
	}
}

func selectBackend() (storage.Backend, error) {
	switch {
	case cfg.Storage == "local":
		return local.New(cfg.StorageDir), nil

	case cfg.Storage == "memory":
		return memory.New(), nil

	case strings.HasPrefix(cfg.Storage, "gs://"):
		return gcs.New(cfg.Storage)

	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func handleMedia(w http.ResponseWriter, r *http.Request) {
	locator := strings.TrimPrefix(r.URL.Path, "/media/")

	logger := log.WithField("url", locator)

	if u, err := url.Parse(locator); err != nil || u.Scheme == "" {
		http.Error(w, "Unable to parse requested URL", http.StatusBadRequest)
		return
	}

	logger.Debug("Received request")

	content, err := cache.Get(r.Context(), mediacache.Descriptor{
		Locator: locator,
		Format:  formatFromQuery(r.URL.Query()),
	})
	if err != nil {
		logger.WithError(err).Warn("Unable to fetch media")
		http.Error(w, "Unable to fetch media", http.StatusBadGateway)
		return
	}

	cacheHeader := "MISS"
	if content.FromCache {
		cacheHeader = "HIT"
	}

	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("X-Cache", cacheHeader)

	if _, err = w.Write(content.Bytes); err != nil {
		logger.WithError(err).Error("Unable to write response")
	}
}

func formatFromQuery(q url.Values) mediacache.Format {
	if q.Get("w") == "" && q.Get("h") == "" {
		return mediacache.FullContent
	}

	width, _ := strconv.ParseUint(q.Get("w"), 10, 32)
	height, _ := strconv.ParseUint(q.Get("h"), 10, 32)

	method := mediacache.ThumbnailScale
	if q.Get("method") == string(mediacache.ThumbnailCrop) {
		method = mediacache.ThumbnailCrop
	}

	return mediacache.ThumbnailOf(method, uint32(width), uint32(height), q.Get("animated") == "true")
}

func handleClear(w http.ResponseWriter, r *http.Request) {
	if err := cache.Clear(r.Context()); err != nil {
		log.WithError(err).Error("Unable to clear media cache")
		http.Error(w, "Unable to clear cache", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cache.Stats(r.Context())); err != nil {
		log.WithError(err).Error("Unable to encode stats")
	}
}
