//go:build linux

package capture

/*
#cgo pkg-config: x11 xext xfixes
#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XShm.h>
#include <X11/extensions/Xfixes.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	Display *display;
	Window root;
	XShmSegmentInfo shminfo;
	XImage *image;
	int width;
	int height;
} XShmCapturer;

static XShmCapturer* xshm_init(const char *display_name) {
	XShmCapturer *c = (XShmCapturer*)calloc(1, sizeof(XShmCapturer));
	if (!c) return NULL;

	c->display = XOpenDisplay(display_name);
	if (!c->display) { free(c); return NULL; }

	int screen = DefaultScreen(c->display);
	c->root = RootWindow(c->display, screen);
	c->width = DisplayWidth(c->display, screen);
	c->height = DisplayHeight(c->display, screen);

	c->image = XShmCreateImage(c->display,
		DefaultVisual(c->display, screen),
		DefaultDepth(c->display, screen),
		ZPixmap, NULL, &c->shminfo,
		c->width, c->height);
	if (!c->image) {
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	c->shminfo.shmid = shmget(IPC_PRIVATE,
		c->image->bytes_per_line * c->image->height,
		IPC_CREAT | 0600);
	if (c->shminfo.shmid < 0) {
		XDestroyImage(c->image);
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	c->shminfo.shmaddr = c->image->data = (char*)shmat(c->shminfo.shmid, NULL, 0);
	c->shminfo.readOnly = False;

	if (!XShmAttach(c->display, &c->shminfo)) {
		shmdt(c->shminfo.shmaddr);
		shmctl(c->shminfo.shmid, IPC_RMID, NULL);
		XDestroyImage(c->image);
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	// marked for removal immediately so cleanup happens on detach, not
	// on process exit
	shmctl(c->shminfo.shmid, IPC_RMID, NULL);

	return c;
}

static int xshm_grab(XShmCapturer *c) {
	if (!XShmGetImage(c->display, c->root, c->image, 0, 0, AllPlanes)) {
		return -1;
	}
	XSync(c->display, False);
	return 0;
}

static void xshm_composite_cursor(XShmCapturer *c) {
	XFixesCursorImage *cursor = XFixesGetCursorImage(c->display);
	if (!cursor) return;

	int cx = cursor->x - cursor->xhot;
	int cy = cursor->y - cursor->yhot;

	for (int y = 0; y < (int)cursor->height; y++) {
		int dy = cy + y;
		if (dy < 0 || dy >= c->height) continue;
		for (int x = 0; x < (int)cursor->width; x++) {
			int dx = cx + x;
			if (dx < 0 || dx >= c->width) continue;

			unsigned long pixel = cursor->pixels[y * cursor->width + x];
			unsigned char a = (pixel >> 24) & 0xFF;
			if (a == 0) continue;

			unsigned char cr = (pixel >> 0) & 0xFF;
			unsigned char cg = (pixel >> 8) & 0xFF;
			unsigned char cb = (pixel >> 16) & 0xFF;

			int offset = dy * c->image->bytes_per_line + dx * 4;
			unsigned char *dst = (unsigned char*)c->image->data + offset;

			if (a == 255) {
				dst[0] = cb;
				dst[1] = cg;
				dst[2] = cr;
			} else {
				dst[0] = (cb * a + dst[0] * (255 - a)) / 255;
				dst[1] = (cg * a + dst[1] * (255 - a)) / 255;
				dst[2] = (cr * a + dst[2] * (255 - a)) / 255;
			}
		}
	}
	XFree(cursor);
}

static void xshm_destroy(XShmCapturer *c) {
	if (!c) return;
	XShmDetach(c->display, &c->shminfo);
	shmdt(c->shminfo.shmaddr);
	XDestroyImage(c->image);
	XCloseDisplay(c->display);
	free(c);
}
*/
import "C"
import (
	"fmt"
	"image"
	"image/color"
	"log"
	"time"
	"unsafe"

	"hotlap/internal/errkind"
	"hotlap/internal/types"
)

// XshmCapturer captures frames via X11 shared memory with XFixes cursor
// compositing: the CPU fallback used when no NvFBC-capable GPU is
// present.
type XshmCapturer struct {
	c       *C.XShmCapturer
	failLog *logLimiter
}

// NewXshmCapturer opens an XShm capture session against the given X
// display (empty string uses $DISPLAY).
func NewXshmCapturer(displayName string) (*XshmCapturer, error) {
	cDisplay := C.CString(displayName)
	defer C.free(unsafe.Pointer(cDisplay))

	xshm := C.xshm_init(cDisplay)
	if xshm == nil {
		return nil, fmt.Errorf("capture/xshm: %w: open display %q", errkind.InitFailed, displayName)
	}
	log.Printf("capture/xshm: %dx%d", int(xshm.width), int(xshm.height))
	return &XshmCapturer{c: xshm, failLog: newLogLimiter(120)}, nil
}

func (c *XshmCapturer) Width() int  { return int(c.c.width) }
func (c *XshmCapturer) Height() int { return int(c.c.height) }

func (c *XshmCapturer) Grab() (*types.Frame, error) {
	if C.xshm_grab(c.c) != 0 {
		if c.failLog.allow() {
			log.Printf("capture/xshm: XShmGetImage failed")
		}
		// XShmGetImage stops working when the server invalidates the
		// attached segment (resolution change, session end); the owner
		// must reattach by building a fresh capturer.
		return nil, fmt.Errorf("capture/xshm: %w: XShmGetImage failed", errkind.AccessLost)
	}
	C.xshm_composite_cursor(c.c)

	w, h := int(c.c.width), int(c.c.height)
	stride := int(c.c.image.bytes_per_line)
	data := C.GoBytes(unsafe.Pointer(c.c.image.data), C.int(stride*h))

	return &types.Frame{
		Data:    data,
		Width:   w,
		Height:  h,
		Stride:  stride,
		PixFmt:  types.PixFmtBGRA,
		Capture: nowHNS(),
	}, nil
}

// nowHNS is the wall-clock capture timestamp in HNS ticks since the Unix
// epoch; the supervisor uses it unchanged as the frame's PTS.
func nowHNS() types.HNS {
	return types.FromDuration(time.Since(time.Unix(0, 0)))
}

// GrabImage implements types.DebugGrabber: a still frame converted to
// image.Image, independent of the live capture loop's cadence.
func (c *XshmCapturer) GrabImage() (image.Image, error) {
	if C.xshm_grab(c.c) != 0 {
		return nil, fmt.Errorf("capture/xshm: XShmGetImage failed")
	}
	C.xshm_composite_cursor(c.c)
	w, h := int(c.c.width), int(c.c.height)
	stride := int(c.c.image.bytes_per_line)
	bgra := C.GoBytes(unsafe.Pointer(c.c.image.data), C.int(stride*h))
	return bgraToImage(bgra, w, h, stride), nil
}

func (c *XshmCapturer) Close() {
	C.xshm_destroy(c.c)
}

func bgraToImage(bgra []byte, w, h, stride int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*stride + x*4
			img.SetRGBA(x, y, color.RGBA{bgra[off+2], bgra[off+1], bgra[off], 255})
		}
	}
	return img
}
