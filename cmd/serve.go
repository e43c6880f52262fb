package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pasco78/store-api-project/internal/query"
	"github.com/pasco78/store-api-project/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the store query API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := query.New(st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(engine),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter wires the fifteen query endpoints plus /health. Every endpoint
// also accepts the upstream-style ServiceKey and type parameters for client
// compatibility; both are ignored.
func newRouter(engine *query.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	h := &apiHandler{engine: engine}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/storeOne", h.storeOne)
	r.Get("/storeListInDong", h.storeListInDong)
	r.Get("/storeListInBuilding", h.storeListInBuilding)
	r.Get("/storeListInPnu", h.storeListInPnu)
	r.Get("/storeListInArea", h.storeListInArea)
	r.Get("/storeListInRadius", h.storeListInRadius)
	r.Get("/storeListInRectangle", h.storeListInRectangle)
	r.Get("/storeListInPolygon", h.storeListInPolygon)
	r.Get("/storeListInUpjong", h.storeListInUpjong)
	r.Get("/storeListByDate", h.storeListByDate)
	r.Get("/reqStoreModify", h.reqStoreModify)
	r.Get("/largeUpjongList", h.largeUpjongList)
	r.Get("/middleUpjongList", h.middleUpjongList)
	r.Get("/smallUpjongList", h.smallUpjongList)
	r.Get("/storeZoneInRectangle", h.storeZoneInRectangle)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type apiHandler struct {
	engine *query.Engine
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pageOf reads the startIndex/endIndex window, defaulting to the upstream
// service's five-row first page.
func pageOf(r *http.Request) (store.Page, error) {
	page := store.DefaultPage
	if s := r.URL.Query().Get("startIndex"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return page, eris.Errorf("invalid startIndex %q", s)
		}
		page.Start = n
	}
	if s := r.URL.Query().Get("endIndex"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return page, eris.Errorf("invalid endIndex %q", s)
		}
		page.End = n
	}
	return page, nil
}

func param(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

func floatParam(r *http.Request, name string) (float64, error) {
	s := param(r, name)
	if s == "" {
		return 0, eris.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

// respond writes the engine result or maps a repository failure to a 500.
func respond[T any](w http.ResponseWriter, res *T, err error) {
	if err != nil {
		zap.L().Error("query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *apiHandler) storeOne(w http.ResponseWriter, r *http.Request) {
	bizesID := param(r, "bizesId")
	if bizesID == "" {
		writeError(w, http.StatusBadRequest, "bizesId is required")
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.One(r.Context(), bizesID, page)
	if err != nil {
		respond[query.Result](w, nil, err)
		return
	}
	if res.TotalCount == 0 {
		writeError(w, http.StatusNotFound, "store not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// keyedList handles the endpoints whose only shape parameter is "key".
func (h *apiHandler) keyedList(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, key string, page store.Page) (*query.Result, error)) {
	key := param(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := run(r.Context(), key, page)
	respond(w, res, err)
}

func (h *apiHandler) storeListInDong(w http.ResponseWriter, r *http.Request) {
	h.keyedList(w, r, h.engine.InDong)
}

func (h *apiHandler) storeListInBuilding(w http.ResponseWriter, r *http.Request) {
	h.keyedList(w, r, h.engine.InBuilding)
}

func (h *apiHandler) storeListInPnu(w http.ResponseWriter, r *http.Request) {
	h.keyedList(w, r, h.engine.ByAddress)
}

func (h *apiHandler) storeListInArea(w http.ResponseWriter, r *http.Request) {
	h.keyedList(w, r, h.engine.InArea)
}

func (h *apiHandler) storeListInPolygon(w http.ResponseWriter, r *http.Request) {
	h.keyedList(w, r, h.engine.InPolygon)
}

func (h *apiHandler) storeListByDate(w http.ResponseWriter, r *http.Request) {
	h.keyedList(w, r, h.engine.ByDate)
}

func (h *apiHandler) storeListInRadius(w http.ResponseWriter, r *http.Request) {
	cx, err := floatParam(r, "cx")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cy, err := floatParam(r, "cy")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	radius, err := floatParam(r, "radius")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.InRadius(r.Context(), cx, cy, radius, page)
	respond(w, res, err)
}

func rectParams(r *http.Request) (minx, miny, maxx, maxy float64, err error) {
	if minx, err = floatParam(r, "minx"); err != nil {
		return
	}
	if miny, err = floatParam(r, "miny"); err != nil {
		return
	}
	if maxx, err = floatParam(r, "maxx"); err != nil {
		return
	}
	maxy, err = floatParam(r, "maxy")
	return
}

func (h *apiHandler) storeListInRectangle(w http.ResponseWriter, r *http.Request) {
	minx, miny, maxx, maxy, err := rectParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.InRectangle(r.Context(), minx, miny, maxx, maxy, page)
	respond(w, res, err)
}

func (h *apiHandler) storeZoneInRectangle(w http.ResponseWriter, r *http.Request) {
	minx, miny, maxx, maxy, err := rectParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.ZonesInRectangle(r.Context(), minx, miny, maxx, maxy, page)
	respond(w, res, err)
}

// storeListInUpjong filters by industry classification. The large code is
// required; the medium and small codes narrow the match further.
func (h *apiHandler) storeListInUpjong(w http.ResponseWriter, r *http.Request) {
	lcls := param(r, "indsLclsCd")
	if lcls == "" {
		writeError(w, http.StatusBadRequest, "indsLclsCd is required")
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.ByCategory(r.Context(), lcls, param(r, "indsMclsCd"), param(r, "indsSclsCd"), page)
	respond(w, res, err)
}

func (h *apiHandler) reqStoreModify(w http.ResponseWriter, r *http.Request) {
	bizesID := param(r, "bizesId")
	if bizesID == "" {
		writeError(w, http.StatusBadRequest, "bizesId is required")
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.ModifyInfo(r.Context(), bizesID, page)
	respond(w, res, err)
}

func (h *apiHandler) largeUpjongList(w http.ResponseWriter, r *http.Request) {
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.LargeCategories(r.Context(), page)
	respond(w, res, err)
}

func (h *apiHandler) middleUpjongList(w http.ResponseWriter, r *http.Request) {
	lcls := param(r, "indsLclsCd")
	if lcls == "" {
		writeError(w, http.StatusBadRequest, "indsLclsCd is required")
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.MiddleCategories(r.Context(), lcls, page)
	respond(w, res, err)
}

func (h *apiHandler) smallUpjongList(w http.ResponseWriter, r *http.Request) {
	lcls := param(r, "indsLclsCd")
	mcls := param(r, "indsMclsCd")
	if lcls == "" || mcls == "" {
		writeError(w, http.StatusBadRequest, "indsLclsCd and indsMclsCd are required")
		return
	}
	page, err := pageOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.SmallCategories(r.Context(), lcls, mcls, page)
	respond(w, res, err)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
