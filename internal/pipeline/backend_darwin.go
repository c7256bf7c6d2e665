//go:build darwin

package pipeline

/*
#cgo pkg-config: libavcodec libavutil libswscale
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/opt.h>
#include <libswscale/swscale.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	AVCodecContext *ctx;
	AVFrame *frame;
	AVPacket *pkt;
	struct SwsContext *sws;
	int width;
	int height;
} VTBEncoder;

static VTBEncoder* vtb_encoder_init(int width, int height, int fps, int qp, int intra_qp, int keyint, const char *codec_name) {
	VTBEncoder *e = (VTBEncoder*)calloc(1, sizeof(VTBEncoder));
	if (!e) return NULL;

	e->width = width;
	e->height = height;

	const AVCodec *codec = NULL;
	int is_hevc = (strcmp(codec_name, "h265") == 0);

	if (is_hevc) {
		codec = avcodec_find_encoder_by_name("hevc_videotoolbox");
		if (!codec) codec = avcodec_find_encoder_by_name("libx265");
	} else {
		codec = avcodec_find_encoder_by_name("h264_videotoolbox");
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
	e->ctx->flags |= AV_CODEC_FLAG_GLOBAL_HEADER;

	// Constant-QP rate control. VideoToolbox has no direct QP knob, so
	// the QP is mapped onto its qscale quality scale; the libx264/265
	// fallbacks take the QP verbatim.
	if (strcmp(codec->name, "h264_videotoolbox") == 0 ||
	    strcmp(codec->name, "hevc_videotoolbox") == 0) {
		av_opt_set(e->ctx->priv_data, "realtime", "1", 0);
		av_opt_set(e->ctx->priv_data, "allow_sw", "1", 0);
		av_opt_set(e->ctx->priv_data, "profile",
		           strcmp(codec->name, "h264_videotoolbox") == 0 ? "baseline" : "main", 0);
		e->ctx->flags |= AV_CODEC_FLAG_QSCALE;
		e->ctx->global_quality = qp * FF_QP2LAMBDA;
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

	e->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;

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

static int vtb_encoder_encode(VTBEncoder *e, const uint8_t *bgra, int stride,
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

static void vtb_encoder_unref(VTBEncoder *e) { av_packet_unref(e->pkt); }

static void vtb_encoder_extradata(VTBEncoder *e, uint8_t **buf, int *size) {
	*buf = e->ctx->extradata;
	*size = e->ctx->extradata_size;
}

static void vtb_encoder_destroy(VTBEncoder *e) {
	if (!e) return;
	if (e->sws) sws_freeContext(e->sws);
	if (e->pkt) av_packet_free(&e->pkt);
	if (e->frame) av_frame_free(&e->frame);
	if (e->ctx) avcodec_free_context(&e->ctx);
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

// VTBBackend wraps a single VideoToolbox (or libx264/265 software
// fallback) encoder. There is no CUDA/NvFBC zero-copy path on this
// platform, so every frame arrives as host BGRA bytes. Submit stages
// the bytes into the slot; the encode runs on the output worker when it
// Retrieves the slot.
type VTBBackend struct {
	e *C.VTBEncoder

	mu     sync.Mutex
	staged map[int]stagedFrame
}

// stagedFrame is one slot's input between Submit and Retrieve.
type stagedFrame struct {
	data     []byte
	stride   int
	pts      types.HNS
	forceIDR bool
}

// NewVTBBackend opens the encoder with constant-quality rate control
// derived from the QP preset.
func NewVTBBackend(width, height, fps, qp, intraQP int, codec string, gopFrames int) (*VTBBackend, error) {
	cCodec := C.CString(codec)
	defer C.free(unsafe.Pointer(cCodec))

	e := C.vtb_encoder_init(C.int(width), C.int(height), C.int(fps),
		C.int(qp), C.int(intraQP), C.int(gopFrames), cCodec)
	if e == nil {
		return nil, fmt.Errorf("pipeline: %w: video encoder init (codec=%s)", errkind.InitFailed, codec)
	}
	log.Printf("pipeline: VideoToolbox encoder (%dx%d, qp=%d intra=%d)", width, height, qp, intraQP)
	return &VTBBackend{e: e, staged: make(map[int]stagedFrame, NumSlots)}, nil
}

func (b *VTBBackend) Submit(idx int, frame *types.ConvertedFrame, pts, duration types.HNS, forceIDR bool) error {
	staged := stagedFrame{stride: frame.Stride, pts: pts, forceIDR: forceIDR}
	switch {
	case len(frame.Data) > 0:
		staged.data = frame.Data
	case frame.Ptr != nil:
		staged.data = C.GoBytes(frame.Ptr, C.int(frame.Stride*frame.Height))
	default:
		return fmt.Errorf("pipeline: %w: empty converted frame", errkind.Transient)
	}

	b.mu.Lock()
	b.staged[idx] = staged
	b.mu.Unlock()
	return nil
}

// Retrieve encodes the staged slot; called only from the output worker.
func (b *VTBBackend) Retrieve(idx int) ([]byte, bool, error) {
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
	ret := C.vtb_encoder_encode(b.e, (*C.uint8_t)(unsafe.Pointer(&staged.data[0])),
		C.int(staged.stride), C.int64_t(staged.pts), forceFlag, &outBuf, &outSize, &isKey)

	if ret != 0 {
		return nil, false, fmt.Errorf("pipeline: %w: hardware encode failed", errkind.DeviceLost)
	}
	if outSize == 0 {
		return nil, false, nil
	}

	data := C.GoBytes(unsafe.Pointer(outBuf), outSize)
	C.vtb_encoder_unref(b.e)
	return data, isKey != 0, nil
}

func (b *VTBBackend) SequenceHeader() []byte {
	var buf *C.uint8_t
	var size C.int
	C.vtb_encoder_extradata(b.e, &buf, &size)
	if size == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(buf), size)
}

func (b *VTBBackend) Close() {
	C.vtb_encoder_destroy(b.e)
}
