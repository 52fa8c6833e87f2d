package photocam

import (
	"time"

	"github.com/cjeanneret/PhotoCam/internal/hw/camera"
	"github.com/go-gl/mathgl/mgl32"
)

// ShootingPlan is the result of one successful in-memory capture.
// Values returned by Camera.Plan are copies; mutating them does not affect
// the camera.
type ShootingPlan struct {
	CameraResolution    camera.Resolution
	CameraPosition      mgl32.Vec3
	CameraToWorldMatrix mgl32.Mat4
	PixelToCameraMatrix mgl32.Mat4
	ImageBuffer         []byte
	CapturedAt          time.Time
}

func (p *ShootingPlan) clone() ShootingPlan {
	c := *p
	c.ImageBuffer = append([]byte(nil), p.ImageBuffer...)
	return c
}

// PixelRay maps a pixel coordinate of the photo to a world-space ray
// (origin at the camera position). It reprojects the pixel through
// PixelToCameraMatrix onto the near plane, then rotates the direction with
// CameraToWorldMatrix. Pixel (0,0) is the top-left corner.
func (p ShootingPlan) PixelRay(x, y float32) (origin, dir mgl32.Vec3) {
	w := float32(p.CameraResolution.Width)
	h := float32(p.CameraResolution.Height)
	ndc := mgl32.Vec4{2*x/w - 1, 1 - 2*y/h, -1, 1}

	cam := p.PixelToCameraMatrix.Mul4x1(ndc)
	if cam.W() != 0 {
		cam = cam.Mul(1 / cam.W())
	}
	world := p.CameraToWorldMatrix.Mul4x1(mgl32.Vec4{cam.X(), cam.Y(), cam.Z(), 0})
	return p.CameraPosition, world.Vec3().Normalize()
}
