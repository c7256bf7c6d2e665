//go:build linux

package capture

/*
#cgo CFLAGS: -I${SRCDIR}/../../cvendor
#include <stdlib.h>
#include <string.h>
#include <dlfcn.h>
#include <stdio.h>
#include "cuda_defs.h"
#include "nvfbc.h"

static PFN_cuInit               fn_cuInit = NULL;
static PFN_cuDeviceGet          fn_cuDeviceGet = NULL;
static PFN_cuDeviceGetName      fn_cuDeviceGetName = NULL;
static PFN_cuDeviceGetByPCIBusId fn_cuDeviceGetByPCIBusId = NULL;
static PFN_cuCtxCreate          fn_cuCtxCreate = NULL;
static PFN_cuCtxDestroy         fn_cuCtxDestroy = NULL;
static PFN_cuCtxSetCurrent      fn_cuCtxSetCurrent = NULL;
static PFN_cuMemcpyDtoH         fn_cuMemcpyDtoH = NULL;
static void                    *fn_cuMemcpy2D_ptr = NULL;

typedef struct {
	void *cuda_lib;
	void *nvfbc_lib;
	NVFBC_API_FUNCTION_LIST fn;
	NVFBC_SESSION_HANDLE session;
	CUcontext cuda_ctx;
	CUdeviceptr frame_ptr;
	CUdeviceptr grab_ptr;
	NVFBC_FRAME_GRAB_INFO grab_info;
	int width, height, stride;
} NvFBCCapturer;

static int load_cuda(NvFBCCapturer *c) {
	c->cuda_lib = dlopen("libcuda.so.1", RTLD_LAZY);
	if (!c->cuda_lib) c->cuda_lib = dlopen("libcuda.so", RTLD_LAZY);
	if (!c->cuda_lib) return -1;

	fn_cuInit = (PFN_cuInit)dlsym(c->cuda_lib, "cuInit");
	fn_cuDeviceGet = (PFN_cuDeviceGet)dlsym(c->cuda_lib, "cuDeviceGet");
	fn_cuDeviceGetName = (PFN_cuDeviceGetName)dlsym(c->cuda_lib, "cuDeviceGetName");
	fn_cuDeviceGetByPCIBusId = (PFN_cuDeviceGetByPCIBusId)dlsym(c->cuda_lib, "cuDeviceGetByPCIBusId");
	fn_cuCtxCreate = (PFN_cuCtxCreate)dlsym(c->cuda_lib, "cuCtxCreate_v2");
	if (!fn_cuCtxCreate) fn_cuCtxCreate = (PFN_cuCtxCreate)dlsym(c->cuda_lib, "cuCtxCreate");
	fn_cuCtxDestroy = (PFN_cuCtxDestroy)dlsym(c->cuda_lib, "cuCtxDestroy_v2");
	if (!fn_cuCtxDestroy) fn_cuCtxDestroy = (PFN_cuCtxDestroy)dlsym(c->cuda_lib, "cuCtxDestroy");
	fn_cuCtxSetCurrent = (PFN_cuCtxSetCurrent)dlsym(c->cuda_lib, "cuCtxSetCurrent");
	fn_cuMemcpyDtoH = (PFN_cuMemcpyDtoH)dlsym(c->cuda_lib, "cuMemcpyDtoH_v2");
	if (!fn_cuMemcpyDtoH) fn_cuMemcpyDtoH = (PFN_cuMemcpyDtoH)dlsym(c->cuda_lib, "cuMemcpyDtoH");
	fn_cuMemcpy2D_ptr = dlsym(c->cuda_lib, "cuMemcpy2D_v2");
	if (!fn_cuMemcpy2D_ptr) fn_cuMemcpy2D_ptr = dlsym(c->cuda_lib, "cuMemcpy2D");

	if (!fn_cuInit || !fn_cuDeviceGet || !fn_cuCtxCreate || !fn_cuCtxDestroy || !fn_cuCtxSetCurrent) {
		dlclose(c->cuda_lib);
		c->cuda_lib = NULL;
		return -1;
	}
	return 0;
}

static void nvfbc_cleanup(NvFBCCapturer *c, int has_session, int has_handle) {
	if (has_session && c->fn.nvFBCDestroyCaptureSession) {
		NVFBC_DESTROY_CAPTURE_SESSION_PARAMS p;
		memset(&p, 0, sizeof(p));
		p.dwVersion = NVFBC_DESTROY_CAPTURE_SESSION_PARAMS_VER;
		c->fn.nvFBCDestroyCaptureSession(c->session, &p);
	}
	if (has_handle && c->fn.nvFBCDestroyHandle) {
		NVFBC_DESTROY_HANDLE_PARAMS p;
		memset(&p, 0, sizeof(p));
		p.dwVersion = NVFBC_DESTROY_HANDLE_PARAMS_VER;
		c->fn.nvFBCDestroyHandle(c->session, &p);
	}
	if (c->cuda_ctx && fn_cuCtxDestroy) fn_cuCtxDestroy(c->cuda_ctx);
	if (c->nvfbc_lib) dlclose(c->nvfbc_lib);
	if (c->cuda_lib) dlclose(c->cuda_lib);
	free(c);
}

static NvFBCCapturer* nvfbc_init(int fps, const char *pci_bus_id) {
	NvFBCCapturer *c = (NvFBCCapturer*)calloc(1, sizeof(NvFBCCapturer));
	if (!c) return NULL;

	if (load_cuda(c) != 0) { free(c); return NULL; }

	if (fn_cuInit(0) != CUDA_SUCCESS) { dlclose(c->cuda_lib); free(c); return NULL; }

	CUdevice device;
	CUresult cr;
	if (fn_cuDeviceGetByPCIBusId && pci_bus_id && pci_bus_id[0]) {
		cr = fn_cuDeviceGetByPCIBusId(&device, pci_bus_id);
	} else {
		cr = fn_cuDeviceGet(&device, 0);
	}
	if (cr != CUDA_SUCCESS) { dlclose(c->cuda_lib); free(c); return NULL; }

	if (fn_cuCtxCreate(&c->cuda_ctx, 0, device) != CUDA_SUCCESS) {
		dlclose(c->cuda_lib); free(c); return NULL;
	}

	c->nvfbc_lib = dlopen("libnvidia-fbc.so.1", RTLD_LAZY);
	if (!c->nvfbc_lib) { nvfbc_cleanup(c, 0, 0); return NULL; }

	PFN_NvFBCCreateInstance createInstance =
		(PFN_NvFBCCreateInstance)dlsym(c->nvfbc_lib, "NvFBCCreateInstance");
	if (!createInstance) { nvfbc_cleanup(c, 0, 0); return NULL; }

	memset(&c->fn, 0, sizeof(c->fn));
	c->fn.dwVersion = NVFBC_VERSION;
	if (createInstance(&c->fn) != NVFBC_SUCCESS) { nvfbc_cleanup(c, 0, 0); return NULL; }

	NVFBC_CREATE_HANDLE_PARAMS handleParams;
	memset(&handleParams, 0, sizeof(handleParams));
	handleParams.dwVersion = NVFBC_CREATE_HANDLE_PARAMS_VER;
	if (c->fn.nvFBCCreateHandle(&c->session, &handleParams) != NVFBC_SUCCESS) {
		nvfbc_cleanup(c, 0, 0); return NULL;
	}

	NVFBC_GET_STATUS_PARAMS statusParams;
	memset(&statusParams, 0, sizeof(statusParams));
	statusParams.dwVersion = NVFBC_GET_STATUS_PARAMS_VER;
	if (c->fn.nvFBCGetStatus(c->session, &statusParams) != NVFBC_SUCCESS || !statusParams.bIsCapturePossible) {
		nvfbc_cleanup(c, 0, 1); return NULL;
	}
	c->width = statusParams.screenSize.w;
	c->height = statusParams.screenSize.h;

	NVFBC_CREATE_CAPTURE_SESSION_PARAMS captureParams;
	memset(&captureParams, 0, sizeof(captureParams));
	captureParams.dwVersion = NVFBC_CREATE_CAPTURE_SESSION_PARAMS_VER;
	captureParams.eCaptureType = NVFBC_CAPTURE_SHARED_CUDA;
	captureParams.eTrackingType = NVFBC_TRACKING_DEFAULT;
	captureParams.bWithCursor = NVFBC_TRUE;
	captureParams.dwSamplingRateMs = fps > 0 ? 1000 / fps : 33;
	captureParams.bPushModel = NVFBC_FALSE;
	if (c->fn.nvFBCCreateCaptureSession(c->session, &captureParams) != NVFBC_SUCCESS) {
		nvfbc_cleanup(c, 0, 1); return NULL;
	}

	NVFBC_TOCUDA_SETUP_PARAMS setupParams;
	memset(&setupParams, 0, sizeof(setupParams));
	setupParams.dwVersion = NVFBC_TOCUDA_SETUP_PARAMS_VER;
	setupParams.eBufferFormat = NVFBC_BUFFER_FORMAT_NV12;
	if (c->fn.nvFBCToCudaSetUp(c->session, &setupParams) != NVFBC_SUCCESS) {
		nvfbc_cleanup(c, 1, 1); return NULL;
	}

	c->stride = (c->width + 255) & ~255;
	return c;
}

// Returns: 0=new frame, 1=reused last frame, -1=hard failure.
static int nvfbc_grab(NvFBCCapturer *c) {
	c->grab_ptr = 0;
	NVFBC_TOCUDA_GRAB_FRAME_PARAMS grabParams;
	memset(&grabParams, 0, sizeof(grabParams));
	grabParams.dwVersion = NVFBC_TOCUDA_GRAB_FRAME_PARAMS_VER;
	grabParams.dwFlags = NVFBC_TOCUDA_GRAB_FLAGS_FORCE_REFRESH | NVFBC_TOCUDA_GRAB_FLAGS_NOWAIT;
	grabParams.pCUDADeviceBuffer = (void*)&c->grab_ptr;
	grabParams.pFrameGrabInfo = &c->grab_info;
	grabParams.dwTimeoutMs = 0;

	NVFBCSTATUS status = c->fn.nvFBCToCudaGrabFrame(c->session, &grabParams);
	if (fn_cuCtxSetCurrent) fn_cuCtxSetCurrent(c->cuda_ctx);

	if (status != NVFBC_SUCCESS) {
		return c->frame_ptr ? 1 : -1;
	}

	c->frame_ptr = c->grab_ptr;
	c->width = c->grab_info.dwWidth;
	c->height = c->grab_info.dwHeight;
	if (c->grab_info.dwByteSize > 0 && c->height > 0) {
		c->stride = c->grab_info.dwByteSize / (c->height * 3 / 2);
	}
	return 0;
}

static void* nvfbc_frame_ptr(NvFBCCapturer *c) { return (void*)(uintptr_t)c->frame_ptr; }

static uint8_t* nvfbc_download_frame(NvFBCCapturer *c, int *out_size) {
	if (!fn_cuMemcpyDtoH || !c->frame_ptr) return NULL;
	int total = c->stride * c->height * 3 / 2;
	uint8_t *buf = (uint8_t*)malloc(total);
	if (!buf) return NULL;
	if (fn_cuMemcpyDtoH(buf, c->frame_ptr, total) != CUDA_SUCCESS) { free(buf); return NULL; }
	*out_size = total;
	return buf;
}

static void nvfbc_destroy(NvFBCCapturer *c) {
	if (!c) return;
	if (c->fn.nvFBCDestroyCaptureSession) {
		NVFBC_DESTROY_CAPTURE_SESSION_PARAMS p;
		memset(&p, 0, sizeof(p));
		p.dwVersion = NVFBC_DESTROY_CAPTURE_SESSION_PARAMS_VER;
		c->fn.nvFBCDestroyCaptureSession(c->session, &p);
	}
	if (c->fn.nvFBCDestroyHandle) {
		NVFBC_DESTROY_HANDLE_PARAMS p;
		memset(&p, 0, sizeof(p));
		p.dwVersion = NVFBC_DESTROY_HANDLE_PARAMS_VER;
		c->fn.nvFBCDestroyHandle(c->session, &p);
	}
	if (c->cuda_ctx && fn_cuCtxDestroy) fn_cuCtxDestroy(c->cuda_ctx);
	// cuda_lib/nvfbc_lib deliberately not dlclose'd: the static function
	// pointers above are process-wide and shared by any other capturer.
	free(c);
}

static void* get_cuMemcpy2D_ptr(void) { return fn_cuMemcpy2D_ptr; }
*/
import "C"

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"unsafe"

	"hotlap/internal/errkind"
	"hotlap/internal/types"
)

// NvfbcCapturer captures frames via NvFBC's TOCUDA mode: zero-copy GPU
// capture that hands the encode pipeline a CUDA device pointer directly,
// the fast path that keeps frames on the GPU end to end.
type NvfbcCapturer struct {
	c   *C.NvFBCCapturer
	fps int

	grabLog *logLimiter
	stats   grabStats

	consecutiveFails int
}

type grabStats struct {
	total, fresh, reused, failed int
}

// NewNvFBCCapturer opens an NvFBC TOCUDA session against the GPU
// identified by its PCI bus ID.
func NewNvFBCCapturer(fps int, pciBusID string) (*NvfbcCapturer, error) {
	cBusID := C.CString(pciBusID)
	defer C.free(unsafe.Pointer(cBusID))

	c := C.nvfbc_init(C.int(fps), cBusID)
	if c == nil {
		return nil, fmt.Errorf("capture/nvfbc: %w: initialization failed", errkind.InitFailed)
	}
	log.Printf("capture/nvfbc: %dx%d", int(c.width), int(c.height))
	return &NvfbcCapturer{c: c, fps: fps, grabLog: newLogLimiter(uint64(fps * 5))}, nil
}

func (c *NvfbcCapturer) Width() int  { return int(c.c.width) }
func (c *NvfbcCapturer) Height() int { return int(c.c.height) }

func (c *NvfbcCapturer) Grab() (*types.Frame, error) {
	ret := C.nvfbc_grab(c.c)
	c.stats.total++
	switch ret {
	case 0:
		c.stats.fresh++
		c.consecutiveFails = 0
	case 1:
		c.stats.reused++
		c.consecutiveFails = 0
	default:
		c.stats.failed++
		c.consecutiveFails++
		if c.grabLog.allow() {
			log.Printf("capture/nvfbc: grab failed, no prior frame to reuse")
		}
		if c.consecutiveFails > c.fps {
			// A full second of failed grabs means the session is gone
			// (mode change, VT switch), not a missed frame.
			return nil, fmt.Errorf("capture/nvfbc: %w: sustained grab failure", errkind.AccessLost)
		}
		return nil, fmt.Errorf("capture/nvfbc: %w: grab failed", errkind.Transient)
	}
	if c.grabLog.allow() {
		log.Printf("capture/nvfbc: grabs=%d fresh=%d reused=%d failed=%d",
			c.stats.total, c.stats.fresh, c.stats.reused, c.stats.failed)
	}

	return &types.Frame{
		Ptr:    unsafe.Pointer(C.nvfbc_frame_ptr(c.c)),
		Width:  int(c.c.width),
		Height: int(c.c.height),
		Stride: int(c.c.stride),
		IsCUDA: true,
		PixFmt: types.PixFmtNV12,
	}, nil
}

// CUDAContext implements types.CUDAProvider: the encoder backend shares
// this context rather than creating a competing one on the same GPU.
func (c *NvfbcCapturer) CUDAContext() unsafe.Pointer {
	return unsafe.Pointer(c.c.cuda_ctx)
}

func (c *NvfbcCapturer) CuMemcpy2D() unsafe.Pointer {
	return unsafe.Pointer(C.get_cuMemcpy2D_ptr())
}

// GrabImage implements types.DebugGrabber by downloading the current
// frame to host memory and converting NV12 to RGBA.
func (c *NvfbcCapturer) GrabImage() (image.Image, error) {
	if C.nvfbc_grab(c.c) < 0 {
		return nil, fmt.Errorf("capture/nvfbc: grab failed")
	}
	w, h, stride := int(c.c.width), int(c.c.height), int(c.c.stride)

	var outSize C.int
	buf := C.nvfbc_download_frame(c.c, &outSize)
	if buf == nil {
		return nil, fmt.Errorf("capture/nvfbc: download failed")
	}
	defer C.free(unsafe.Pointer(buf))

	nv12 := C.GoBytes(unsafe.Pointer(buf), outSize)
	return nv12ToImage(nv12, w, h, stride), nil
}

func (c *NvfbcCapturer) Close() {
	C.nvfbc_destroy(c.c)
}

func nv12ToImage(nv12 []byte, w, h, stride int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	uvOff := stride * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yVal := int(nv12[y*stride+x])
			uvIdx := uvOff + (y/2)*stride + (x &^ 1)
			uVal := int(nv12[uvIdx]) - 128
			vVal := int(nv12[uvIdx+1]) - 128
			r := clamp8(yVal + (91881*vVal+32768)>>16)
			g := clamp8(yVal - (22554*uVal+46802*vVal+32768)>>16)
			b := clamp8(yVal + (116130*uVal+32768)>>16)
			img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
		}
	}
	return img
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
