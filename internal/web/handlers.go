package web

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/PhotoCam/internal/hw/camera"
	"github.com/cjeanneret/PhotoCam/internal/photocam"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"
)

// Camera is the part of photocam.Camera served over HTTP.
type Camera interface {
	RequestCapture() bool
	CanTakePhoto() bool
	State() photocam.State
	Plan() (photocam.ShootingPlan, bool)
	Resolution() camera.Resolution
	PixelFormat() camera.PixelFormat
	HologramOpacity() float32
	Options() photocam.Options
}

// Status is the body of GET /status.
type Status struct {
	CanTakePhoto    bool    `json:"can_take_photo"`
	State           string  `json:"state"`
	Resolution      string  `json:"resolution"`
	PixelFormat     string  `json:"pixel_format"`
	HologramOpacity float32 `json:"hologram_opacity"`
	ShowHolograms   bool    `json:"show_holograms"`
	SaveToDisk      bool    `json:"save_to_disk"`
	PictureDir      string  `json:"picture_dir,omitempty"`
	HasPlan         bool    `json:"has_plan"`
}

// PlanInfo is the body of GET /plan. Matrices are column-major.
type PlanInfo struct {
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	CameraPosition mgl32.Vec3 `json:"camera_position"`
	CameraToWorld  mgl32.Mat4 `json:"camera_to_world"`
	PixelToCamera  mgl32.Mat4 `json:"pixel_to_camera"`
	ImageBytes     int        `json:"image_bytes"`
	CapturedAt     time.Time  `json:"captured_at"`
}

// Ray is the body of GET /plan/ray: the world-space ray through one pixel.
type Ray struct {
	X         float32    `json:"x"`
	Y         float32    `json:"y"`
	Origin    mgl32.Vec3 `json:"origin"`
	Direction mgl32.Vec3 `json:"direction"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Camera      Camera
	limiter     *rate.Limiter
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// minInterval throttles POST /capture; 0 disables throttling.
// If cam is nil, POST /capture returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, cam Camera, minInterval time.Duration, staticFS fs.FS) *Handlers {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Handlers{
		Broadcaster: broadcaster,
		Camera:      cam,
		limiter:     rate.NewLimiter(limit, 1),
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCapture handles POST /capture. The attempt runs on the platform
// callbacks; the response only says whether it was admitted.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	if !h.Camera.RequestCapture() {
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	opts := h.Camera.Options()
	_, hasPlan := h.Camera.Plan()
	st := Status{
		CanTakePhoto:    h.Camera.CanTakePhoto(),
		State:           h.Camera.State().String(),
		Resolution:      h.Camera.Resolution().String(),
		PixelFormat:     h.Camera.PixelFormat().String(),
		HologramOpacity: h.Camera.HologramOpacity(),
		ShowHolograms:   opts.ShowHolograms,
		SaveToDisk:      opts.SaveToDisk,
		HasPlan:         hasPlan,
	}
	if opts.SaveToDisk {
		st.PictureDir = opts.PictureDir
	}
	writeJSON(w, http.StatusOK, st)
}

// HandlePlan handles GET /plan: metadata of the latest in-memory capture.
func (h *Handlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.plan(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PlanInfo{
		Width:          plan.CameraResolution.Width,
		Height:         plan.CameraResolution.Height,
		CameraPosition: plan.CameraPosition,
		CameraToWorld:  plan.CameraToWorldMatrix,
		PixelToCamera:  plan.PixelToCameraMatrix,
		ImageBytes:     len(plan.ImageBuffer),
		CapturedAt:     plan.CapturedAt,
	})
}

// HandlePlanImage handles GET /plan/image: the JPEG bytes of the latest plan.
func (h *Handlers) HandlePlanImage(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.plan(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(plan.ImageBuffer)
}

// HandlePlanRay handles GET /plan/ray?x=&y=: reprojects a pixel of the
// latest photo into the world.
func (h *Handlers) HandlePlanRay(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.plan(w)
	if !ok {
		return
	}
	x, err := pixelParam(r, "x", plan.CameraResolution.Width)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	y, err := pixelParam(r, "y", plan.CameraResolution.Height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	origin, dir := plan.PixelRay(x, y)
	writeJSON(w, http.StatusOK, Ray{X: x, Y: y, Origin: origin, Direction: dir})
}

// pixelParam parses a pixel coordinate in [0, max].
func pixelParam(r *http.Request, name string, max int) (float32, error) {
	v, err := strconv.ParseFloat(r.URL.Query().Get(name), 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if math.IsNaN(v) || v < 0 || v > float64(max) {
		return 0, fmt.Errorf("%s must be between 0 and %d", name, max)
	}
	return float32(v), nil
}

func (h *Handlers) plan(w http.ResponseWriter) (photocam.ShootingPlan, bool) {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return photocam.ShootingPlan{}, false
	}
	plan, ok := h.Camera.Plan()
	if !ok {
		http.Error(w, "no photo available", http.StatusNotFound)
		return photocam.ShootingPlan{}, false
	}
	return plan, true
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
