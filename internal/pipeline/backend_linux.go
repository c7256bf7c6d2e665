//go:build linux

package pipeline

/*
#cgo pkg-config: libavcodec libavutil libswscale
#cgo CFLAGS: -I${SRCDIR}/../../cvendor
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/opt.h>
#include <libavutil/hwcontext.h>
#include <libavutil/hwcontext_cuda.h>
#include <libswscale/swscale.h>
#include <stdlib.h>
#include <string.h>
#include "cuda_defs.h"

// ---------------------------------------------------------------------------
// CPU encoder: sws_scale BGRA->NV12/YUV420P fused directly into
// avcodec_send_frame, one call per submitted slot. Used on the XShm
// fallback path (no CUDA context available).
// ---------------------------------------------------------------------------

typedef struct {
	AVCodecContext *ctx;
	AVFrame *frame;
	AVPacket *pkt;
	struct SwsContext *sws;
	int width;
	int height;
	int64_t pts;
} CPUEncoder;

static CPUEncoder* cpu_encoder_init(int width, int height, int fps,
                                     int qp, int intra_qp, int keyint,
                                     int gpu_index, const char *codec_name) {
	CPUEncoder *e = (CPUEncoder*)calloc(1, sizeof(CPUEncoder));
	if (!e) return NULL;

	e->width = width;
	e->height = height;

	const AVCodec *codec = NULL;
	int is_hevc = (strcmp(codec_name, "h265") == 0);
	if (is_hevc) {
		codec = avcodec_find_encoder_by_name("hevc_nvenc");
		if (!codec) codec = avcodec_find_encoder_by_name("libx265");
	} else {
		codec = avcodec_find_encoder_by_name("h264_nvenc");
		if (!codec) codec = avcodec_find_encoder_by_name("libx264");
	}
	if (!codec) { free(e); return NULL; }

	e->ctx = avcodec_alloc_context3(codec);
	if (!e->ctx) { free(e); return NULL; }

	e->ctx->width = width;
	e->ctx->height = height;
	e->ctx->time_base = (AVRational){1, fps};
	e->ctx->framerate = (AVRational){fps, 1};
	e->ctx->pix_fmt = AV_PIX_FMT_NV12;
	e->ctx->gop_size = keyint;
	e->ctx->max_b_frames = 0;
	e->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;
	e->ctx->flags |= AV_CODEC_FLAG_GLOBAL_HEADER;

	// Constant-QP rate control throughout: the quality preset maps to a
	// fixed QP (and a lower intra QP) rather than a bitrate target.
	if (strcmp(codec->name, "h264_nvenc") == 0) {
		av_opt_set(e->ctx->priv_data, "preset", "p1", 0);
		av_opt_set(e->ctx->priv_data, "tune", "ull", 0);
		av_opt_set(e->ctx->priv_data, "profile", "baseline", 0);
		av_opt_set(e->ctx->priv_data, "rc", "constqp", 0);
		av_opt_set_int(e->ctx->priv_data, "qp", qp, 0);
		av_opt_set_int(e->ctx->priv_data, "init_qpI", intra_qp, 0);
		av_opt_set(e->ctx->priv_data, "zerolatency", "1", 0);
		av_opt_set_int(e->ctx->priv_data, "gpu", gpu_index, 0);
	} else if (strcmp(codec->name, "hevc_nvenc") == 0) {
		av_opt_set(e->ctx->priv_data, "preset", "p1", 0);
		av_opt_set(e->ctx->priv_data, "tune", "ull", 0);
		av_opt_set(e->ctx->priv_data, "profile", "main", 0);
		av_opt_set(e->ctx->priv_data, "rc", "constqp", 0);
		av_opt_set_int(e->ctx->priv_data, "qp", qp, 0);
		av_opt_set_int(e->ctx->priv_data, "init_qpI", intra_qp, 0);
		av_opt_set(e->ctx->priv_data, "zerolatency", "1", 0);
		av_opt_set_int(e->ctx->priv_data, "gpu", gpu_index, 0);
	} else if (strcmp(codec->name, "libx265") == 0) {
		char params[64];
		snprintf(params, sizeof(params), "qp=%d", qp);
		av_opt_set(e->ctx->priv_data, "preset", "ultrafast", 0);
		av_opt_set(e->ctx->priv_data, "tune", "zerolatency", 0);
		av_opt_set(e->ctx->priv_data, "x265-params", params, 0);
		e->ctx->pix_fmt = AV_PIX_FMT_YUV420P;
	} else {
		av_opt_set(e->ctx->priv_data, "preset", "ultrafast", 0);
		av_opt_set(e->ctx->priv_data, "tune", "zerolatency", 0);
		av_opt_set(e->ctx->priv_data, "profile", "baseline", 0);
		av_opt_set_int(e->ctx->priv_data, "qp", qp, 0);
		e->ctx->pix_fmt = AV_PIX_FMT_YUV420P;
	}

	if (avcodec_open2(e->ctx, codec, NULL) < 0) {
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}

	e->frame = av_frame_alloc();
	e->frame->format = e->ctx->pix_fmt;
	e->frame->width = width;
	e->frame->height = height;
	av_frame_get_buffer(e->frame, 0);

	e->pkt = av_packet_alloc();

	e->sws = sws_getContext(
		width, height, AV_PIX_FMT_BGRA,
		width, height, e->ctx->pix_fmt,
		SWS_FAST_BILINEAR, NULL, NULL, NULL);
	if (!e->sws) {
		av_packet_free(&e->pkt);
		av_frame_free(&e->frame);
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}

	return e;
}

static int cpu_encoder_encode(CPUEncoder *e, const uint8_t *bgra, int stride,
                               int64_t pts, int force_idr,
                               uint8_t **out_buf, int *out_size, int *is_key) {
	*out_size = 0;

	const uint8_t *src_data[1] = { bgra };
	int src_linesize[1] = { stride };

	av_frame_make_writable(e->frame);
	sws_scale(e->sws, src_data, src_linesize, 0, e->height,
	          e->frame->data, e->frame->linesize);

	e->frame->pts = pts;
	e->frame->pict_type = force_idr ? AV_PICTURE_TYPE_I : AV_PICTURE_TYPE_NONE;
	if (force_idr) e->frame->flags |= AV_FRAME_FLAG_KEY;
	else e->frame->flags &= ~AV_FRAME_FLAG_KEY;

	int ret = avcodec_send_frame(e->ctx, e->frame);
	if (ret < 0) return -1;

	ret = avcodec_receive_packet(e->ctx, e->pkt);
	if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) return 0;
	if (ret < 0) return -1;

	*out_buf = e->pkt->data;
	*out_size = e->pkt->size;
	*is_key = (e->pkt->flags & AV_PKT_FLAG_KEY) ? 1 : 0;
	return 0;
}

static void cpu_encoder_unref(CPUEncoder *e) { av_packet_unref(e->pkt); }

static void cpu_encoder_extradata(CPUEncoder *e, uint8_t **buf, int *size) {
	*buf = e->ctx->extradata;
	*size = e->ctx->extradata_size;
}

static void cpu_encoder_destroy(CPUEncoder *e) {
	if (!e) return;
	if (e->sws) sws_freeContext(e->sws);
	if (e->pkt) av_packet_free(&e->pkt);
	if (e->frame) av_frame_free(&e->frame);
	if (e->ctx) avcodec_free_context(&e->ctx);
	free(e);
}

// ---------------------------------------------------------------------------
// CUDA encoder: receives an NV12 CUDA device pointer (NvFBC TOCUDA) wrapped
// directly in an AV_PIX_FMT_CUDA AVFrame and encoded via NVENC. Zero CPU
// involvement: the only copy is device-to-device, into the hw_frames_ctx
// buffer NVENC reads from.
// ---------------------------------------------------------------------------

typedef struct {
	AVCodecContext *ctx;
	AVBufferRef *hw_device_ctx;
	AVBufferRef *hw_frames_ctx;
	AVFrame **slot_frames;
	int num_slots;
	AVPacket *pkt;
	int width;
	int height;
	void *cuMemcpy2D_fn;
} CUDAEncoder;

static void cuda_encoder_destroy(CUDAEncoder *e);

static CUDAEncoder* cuda_encoder_init(int width, int height, int fps,
                                       int qp, int intra_qp, int keyint,
                                       int gpu_index, const char *codec_name,
                                       int num_slots,
                                       void *cuda_ctx_ptr, void *cuMemcpy2D_fn) {
	CUcontext cuda_ctx = (CUcontext)cuda_ctx_ptr;
	CUDAEncoder *e = (CUDAEncoder*)calloc(1, sizeof(CUDAEncoder));
	if (!e) return NULL;

	e->width = width;
	e->height = height;
	e->cuMemcpy2D_fn = cuMemcpy2D_fn;

	e->hw_device_ctx = av_hwdevice_ctx_alloc(AV_HWDEVICE_TYPE_CUDA);
	if (!e->hw_device_ctx) { free(e); return NULL; }

	AVHWDeviceContext *device_ctx = (AVHWDeviceContext*)e->hw_device_ctx->data;
	AVCUDADeviceContext *cuda_device_ctx = (AVCUDADeviceContext*)device_ctx->hwctx;
	cuda_device_ctx->cuda_ctx = cuda_ctx;
	cuda_device_ctx->internal = NULL;

	if (av_hwdevice_ctx_init(e->hw_device_ctx) < 0) {
		av_buffer_unref(&e->hw_device_ctx);
		free(e);
		return NULL;
	}

	e->hw_frames_ctx = av_hwframe_ctx_alloc(e->hw_device_ctx);
	if (!e->hw_frames_ctx) {
		av_buffer_unref(&e->hw_device_ctx);
		free(e);
		return NULL;
	}

	AVHWFramesContext *frames_ctx = (AVHWFramesContext*)e->hw_frames_ctx->data;
	frames_ctx->format = AV_PIX_FMT_CUDA;
	frames_ctx->sw_format = AV_PIX_FMT_NV12;
	frames_ctx->width = width;
	frames_ctx->height = height;
	frames_ctx->initial_pool_size = num_slots + 2;

	if (av_hwframe_ctx_init(e->hw_frames_ctx) < 0) {
		av_buffer_unref(&e->hw_frames_ctx);
		av_buffer_unref(&e->hw_device_ctx);
		free(e);
		return NULL;
	}

	const AVCodec *codec = NULL;
	int is_hevc = (strcmp(codec_name, "h265") == 0);
	codec = avcodec_find_encoder_by_name(is_hevc ? "hevc_nvenc" : "h264_nvenc");
	if (!codec) {
		av_buffer_unref(&e->hw_frames_ctx);
		av_buffer_unref(&e->hw_device_ctx);
		free(e);
		return NULL;
	}

	e->ctx = avcodec_alloc_context3(codec);
	if (!e->ctx) {
		av_buffer_unref(&e->hw_frames_ctx);
		av_buffer_unref(&e->hw_device_ctx);
		free(e);
		return NULL;
	}

	e->ctx->width = width;
	e->ctx->height = height;
	e->ctx->time_base = (AVRational){1, fps};
	e->ctx->framerate = (AVRational){fps, 1};
	e->ctx->pix_fmt = AV_PIX_FMT_CUDA;
	e->ctx->sw_pix_fmt = AV_PIX_FMT_NV12;
	e->ctx->gop_size = keyint;
	e->ctx->max_b_frames = 0;
	e->ctx->flags |= AV_CODEC_FLAG_GLOBAL_HEADER;
	e->ctx->hw_frames_ctx = av_buffer_ref(e->hw_frames_ctx);

	av_opt_set(e->ctx->priv_data, "preset", "p1", 0);
	av_opt_set(e->ctx->priv_data, "tune", "ull", 0);
	av_opt_set(e->ctx->priv_data, "profile", is_hevc ? "main" : "baseline", 0);
	av_opt_set(e->ctx->priv_data, "rc", "constqp", 0);
	av_opt_set_int(e->ctx->priv_data, "qp", qp, 0);
	av_opt_set_int(e->ctx->priv_data, "init_qpI", intra_qp, 0);
	av_opt_set(e->ctx->priv_data, "zerolatency", "1", 0);
	av_opt_set_int(e->ctx->priv_data, "gpu", gpu_index, 0);

	e->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;

	if (avcodec_open2(e->ctx, codec, NULL) < 0) {
		avcodec_free_context(&e->ctx);
		av_buffer_unref(&e->hw_frames_ctx);
		av_buffer_unref(&e->hw_device_ctx);
		free(e);
		return NULL;
	}

	// One pinned CUDA frame per pipeline slot: the producer stages its
	// device-to-device copy into slot_frames[idx] at submit time; the
	// output worker encodes from it later without racing the capture
	// buffer, which NvFBC reuses on the next grab.
	e->num_slots = num_slots;
	e->slot_frames = (AVFrame**)calloc(num_slots, sizeof(AVFrame*));
	if (!e->slot_frames) { cuda_encoder_destroy(e); return NULL; }
	for (int i = 0; i < num_slots; i++) {
		e->slot_frames[i] = av_frame_alloc();
		if (!e->slot_frames[i] ||
		    av_hwframe_get_buffer(e->hw_frames_ctx, e->slot_frames[i], 0) < 0) {
			cuda_encoder_destroy(e);
			return NULL;
		}
	}

	e->pkt = av_packet_alloc();
	return e;
}

// cuda_encoder_stage copies the capture buffer into the slot's pinned
// CUDA frame. Runs on the submitting (capture) thread; the copy is the
// only work done there.
static int cuda_encoder_stage(CUDAEncoder *e, int slot,
                               unsigned long long cuda_ptr, int stride) {
	AVFrame *dst = e->slot_frames[slot];

	size_t y_size = (size_t)stride * e->height;
	CUdeviceptr src_y = (CUdeviceptr)cuda_ptr;
	CUdeviceptr src_uv = src_y + y_size;
	CUdeviceptr dst_y = (CUdeviceptr)dst->data[0];
	CUdeviceptr dst_uv = (CUdeviceptr)dst->data[1];

	if (!e->cuMemcpy2D_fn) return -1;
	PFN_cuMemcpy2D fn = (PFN_cuMemcpy2D)e->cuMemcpy2D_fn;

	CUDA_MEMCPY2D cp_y;
	memset(&cp_y, 0, sizeof(cp_y));
	cp_y.srcMemoryType = CU_MEMORYTYPE_DEVICE;
	cp_y.srcDevice = src_y;
	cp_y.srcPitch = stride;
	cp_y.dstMemoryType = CU_MEMORYTYPE_DEVICE;
	cp_y.dstDevice = dst_y;
	cp_y.dstPitch = dst->linesize[0];
	cp_y.WidthInBytes = e->width;
	cp_y.Height = e->height;
	if (fn(&cp_y) != CUDA_SUCCESS) return -1;

	CUDA_MEMCPY2D cp_uv;
	memset(&cp_uv, 0, sizeof(cp_uv));
	cp_uv.srcMemoryType = CU_MEMORYTYPE_DEVICE;
	cp_uv.srcDevice = src_uv;
	cp_uv.srcPitch = stride;
	cp_uv.dstMemoryType = CU_MEMORYTYPE_DEVICE;
	cp_uv.dstDevice = dst_uv;
	cp_uv.dstPitch = dst->linesize[1];
	cp_uv.WidthInBytes = e->width;
	cp_uv.Height = e->height / 2;
	if (fn(&cp_uv) != CUDA_SUCCESS) return -1;

	return 0;
}

// cuda_encoder_encode_slot encodes a previously staged slot frame. Runs
// on the output worker thread.
static int cuda_encoder_encode_slot(CUDAEncoder *e, int slot,
                                     int64_t pts, int force_idr,
                                     uint8_t **out_buf, int *out_size, int *is_key) {
	*out_size = 0;

	AVFrame *frame = e->slot_frames[slot];
	frame->pts = pts;
	frame->pict_type = force_idr ? AV_PICTURE_TYPE_I : AV_PICTURE_TYPE_NONE;
	if (force_idr) frame->flags |= AV_FRAME_FLAG_KEY;
	else frame->flags &= ~AV_FRAME_FLAG_KEY;

	int ret = avcodec_send_frame(e->ctx, frame);
	if (ret < 0) return -1;

	ret = avcodec_receive_packet(e->ctx, e->pkt);
	if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) return 0;
	if (ret < 0) return -1;

	*out_buf = e->pkt->data;
	*out_size = e->pkt->size;
	*is_key = (e->pkt->flags & AV_PKT_FLAG_KEY) ? 1 : 0;
	return 0;
}

static void cuda_encoder_unref(CUDAEncoder *e) { av_packet_unref(e->pkt); }

static void cuda_encoder_extradata(CUDAEncoder *e, uint8_t **buf, int *size) {
	*buf = e->ctx->extradata;
	*size = e->ctx->extradata_size;
}

static void cuda_encoder_destroy(CUDAEncoder *e) {
	if (!e) return;
	if (e->pkt) av_packet_free(&e->pkt);
	if (e->slot_frames) {
		for (int i = 0; i < e->num_slots; i++) {
			if (e->slot_frames[i]) av_frame_free(&e->slot_frames[i]);
		}
		free(e->slot_frames);
	}
	if (e->ctx) avcodec_free_context(&e->ctx);
	if (e->hw_frames_ctx) av_buffer_unref(&e->hw_frames_ctx);
	if (e->hw_device_ctx) av_buffer_unref(&e->hw_device_ctx);
	free(e);
}
*/
import "C"

import (
	"fmt"
	"log"
	"sync"
	"unsafe"

	"hotlap/internal/errkind"
	"hotlap/internal/types"
)

// FFmpegBackend wraps a single libavcodec encoder -- CPU (sws_scale +
// NVENC-by-name-fallback-to-libx264/265) or CUDA (hw_frames_ctx +
// device-to-device NV12 copy into NVENC) -- chosen at construction time
// by whether a CUDA context was supplied. Submit only stages the input
// into the slot (a host-byte reference on the CPU path, a pinned CUDA
// slot frame on the GPU path); the actual encode runs on the output
// worker when it Retrieves the slot, keeping the capture loop off the
// encoder entirely.
type FFmpegBackend struct {
	cpu  *C.CPUEncoder
	cuda *C.CUDAEncoder

	mu     sync.Mutex
	staged map[int]stagedFrame
}

// stagedFrame is one slot's input between Submit and Retrieve.
type stagedFrame struct {
	data     []byte // host BGRA bytes; nil on the CUDA path
	stride   int
	pts      types.HNS
	forceIDR bool
}

// NewFFmpegBackend opens a CUDA NVENC encoder when cudaCtx is non-nil,
// falling back to the CPU sws_scale+NVENC-or-libx264/265 path otherwise.
// Rate control is constant-QP: on the NVENC encoders qp sets inter frames
// and intraQP sets IDR frames; the libx264/libx265 fallbacks use qp for
// every frame.
func NewFFmpegBackend(width, height, fps, qp, intraQP, gpu int, codec string, gopFrames int, cudaCtx, cuMemcpy2D unsafe.Pointer) (*FFmpegBackend, error) {
	cCodec := C.CString(codec)
	defer C.free(unsafe.Pointer(cCodec))

	b := &FFmpegBackend{staged: make(map[int]stagedFrame, NumSlots)}

	if cudaCtx != nil {
		e := C.cuda_encoder_init(C.int(width), C.int(height), C.int(fps),
			C.int(qp), C.int(intraQP), C.int(gopFrames), C.int(gpu), cCodec,
			C.int(NumSlots), cudaCtx, cuMemcpy2D)
		if e != nil {
			b.cuda = e
			log.Printf("pipeline: CUDA NVENC encoder (%dx%d, constqp qp=%d intra=%d)", width, height, qp, intraQP)
			return b, nil
		}
		log.Printf("pipeline: CUDA encoder init failed, falling back to CPU encoder")
	}

	e := C.cpu_encoder_init(C.int(width), C.int(height), C.int(fps),
		C.int(qp), C.int(intraQP), C.int(gopFrames), C.int(gpu), cCodec)
	if e == nil {
		return nil, fmt.Errorf("pipeline: %w: video encoder init (codec=%s)", errkind.InitFailed, codec)
	}
	b.cpu = e
	log.Printf("pipeline: CPU encoder (%dx%d, constqp qp=%d intra=%d)", width, height, qp, intraQP)
	return b, nil
}

// Submit stages the frame into slot idx. On the CUDA path this is the
// cross-device copy into the slot's pinned frame; on the CPU path the
// host bytes are retained as-is (every Grab hands out a fresh buffer).
func (b *FFmpegBackend) Submit(idx int, frame *types.ConvertedFrame, pts, duration types.HNS, forceIDR bool) error {
	staged := stagedFrame{stride: frame.Stride, pts: pts, forceIDR: forceIDR}

	if b.cuda != nil {
		if !frame.IsCUDA {
			return fmt.Errorf("pipeline: %w: CUDA backend received non-CUDA frame", errkind.InitFailed)
		}
		cudaPtr := C.ulonglong(uintptr(frame.Ptr))
		if C.cuda_encoder_stage(b.cuda, C.int(idx), cudaPtr, C.int(frame.Stride)) != 0 {
			return fmt.Errorf("pipeline: %w: CUDA stage copy failed", errkind.DeviceLost)
		}
	} else {
		switch {
		case len(frame.Data) > 0:
			staged.data = frame.Data
		case frame.Ptr != nil:
			staged.data = C.GoBytes(frame.Ptr, C.int(frame.Stride*frame.Height))
		default:
			return fmt.Errorf("pipeline: %w: empty converted frame", errkind.Transient)
		}
	}

	b.mu.Lock()
	b.staged[idx] = staged
	b.mu.Unlock()
	return nil
}

// Retrieve encodes the staged slot and returns its bitstream. Called
// only from the pipeline's single output worker goroutine, so the
// libavcodec context is touched by exactly one thread.
func (b *FFmpegBackend) Retrieve(idx int) ([]byte, bool, error) {
	b.mu.Lock()
	staged, ok := b.staged[idx]
	delete(b.staged, idx)
	b.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	forceFlag := C.int(0)
	if staged.forceIDR {
		forceFlag = 1
	}

	var outBuf *C.uint8_t
	var outSize C.int
	var isKey C.int
	var ret C.int

	if b.cuda != nil {
		ret = C.cuda_encoder_encode_slot(b.cuda, C.int(idx),
			C.int64_t(staged.pts), forceFlag, &outBuf, &outSize, &isKey)
	} else {
		if len(staged.data) == 0 {
			return nil, false, fmt.Errorf("pipeline: %w: empty staged frame", errkind.Transient)
		}
		ret = C.cpu_encoder_encode(b.cpu, (*C.uint8_t)(unsafe.Pointer(&staged.data[0])),
			C.int(staged.stride), C.int64_t(staged.pts), forceFlag, &outBuf, &outSize, &isKey)
	}

	if ret != 0 {
		return nil, false, fmt.Errorf("pipeline: %w: hardware encode failed", errkind.DeviceLost)
	}
	if outSize == 0 {
		return nil, false, nil
	}

	data := C.GoBytes(unsafe.Pointer(outBuf), outSize)
	if b.cuda != nil {
		C.cuda_encoder_unref(b.cuda)
	} else {
		C.cpu_encoder_unref(b.cpu)
	}
	return data, isKey != 0, nil
}

func (b *FFmpegBackend) SequenceHeader() []byte {
	var buf *C.uint8_t
	var size C.int
	if b.cuda != nil {
		C.cuda_encoder_extradata(b.cuda, &buf, &size)
	} else {
		C.cpu_encoder_extradata(b.cpu, &buf, &size)
	}
	if size == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(buf), size)
}

func (b *FFmpegBackend) Close() {
	if b.cuda != nil {
		C.cuda_encoder_destroy(b.cuda)
	}
	if b.cpu != nil {
		C.cpu_encoder_destroy(b.cpu)
	}
}
