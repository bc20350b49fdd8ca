package pxproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gproxy/internal/glog"
	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxmetrics"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/gordian-engine/gproxy/px/pxtransport"
)

// HandlerConfig is the configuration for [NewHandler].
type HandlerConfig struct {
	Storage pxstore.Storage

	// Internal is the shard list that chain-addressed messages are routed over.
	Internal pxnet.InternalNetworkConfig

	// Dialer connects to shards.
	Dialer pxtransport.Dialer

	SendTimeout, RecvTimeout time.Duration

	// Optional.
	Metrics *pxmetrics.Metrics
}

// Handler routes each inbound message to the local dispatcher or to a shard.
// It is safe for concurrent use.
type Handler struct {
	log *slog.Logger

	storage  pxstore.Storage
	internal pxnet.InternalNetworkConfig
	dialer   pxtransport.Dialer

	sendTimeout, recvTimeout time.Duration

	metrics *pxmetrics.Metrics
}

var _ pxtransport.Handler = (*Handler)(nil)

func NewHandler(log *slog.Logger, cfg HandlerConfig) *Handler {
	if cfg.Storage == nil {
		panic("BUG: storage for the proxy handler is nil")
	}
	if cfg.Dialer == nil {
		panic("BUG: shard dialer for the proxy handler is nil")
	}

	return &Handler{
		log: log,

		storage:  cfg.Storage,
		internal: cfg.Internal,
		dialer:   cfg.Dialer,

		sendTimeout: cfg.SendTimeout,
		recvTimeout: cfg.RecvTimeout,

		metrics: cfg.Metrics,
	}
}

// HandleMessage answers or forwards m.
// Every failure is logged and reported as no response.
func (h *Handler) HandleMessage(ctx context.Context, m pxrpc.Message) *pxrpc.Message {
	// A message already accepted runs to completion through shutdown.
	ctx = context.WithoutCancel(ctx)

	kind := m.Kind()

	if kind.IsLocal() {
		h.metrics.MessageRouted(kind, pxmetrics.RouteLocal)

		resp, err := h.HandleLocal(ctx, m)
		if err != nil {
			h.metrics.LocalFailed(kind)
			h.log.Error("Failed to handle local message", "kind", kind, "err", err)
			return nil
		}
		return resp
	}

	chainID, ok := m.TargetChainID()
	if !ok {
		h.metrics.MessageRouted(kind, pxmetrics.RouteRejected)
		h.log.Warn("Can't proxy message without chain ID", "kind", kind)
		return nil
	}

	h.metrics.MessageRouted(kind, pxmetrics.RouteForward)
	shard := h.internal.ShardFor(chainID)

	start := time.Now()
	resp, err := Forward(ctx, h.dialer, m, shard, h.sendTimeout, h.recvTimeout)
	if err != nil {
		h.metrics.ForwardFailed(forwardFailure(err))
		glog.KCE(h.log, kind, chainID, err).Warn("Failed to forward message", "shard", shard.Address())
		return nil
	}
	h.metrics.ForwardDone(time.Since(start))

	glog.KC(h.log, kind, chainID).Debug(
		"Forwarded message", "shard", shard.Address(), "has_response", resp != nil,
	)
	return resp
}

func forwardFailure(err error) pxmetrics.ForwardFailure {
	var fe *ForwardError
	if !errors.As(err, &fe) {
		return pxmetrics.FailureRecv
	}

	switch fe.Op {
	case OpDial:
		return pxmetrics.FailureDial
	case OpSend:
		if errors.Is(err, ErrSendTimedOut) {
			return pxmetrics.FailureSendTimeout
		}
		return pxmetrics.FailureSend
	default:
		if errors.Is(err, ErrRecvTimedOut) {
			return pxmetrics.FailureRecvTimeout
		}
		return pxmetrics.FailureRecv
	}
}

// HandleLocal answers one of the local requests from storage.
// Any other kind of message results in an [UnexpectedMessageError].
func (h *Handler) HandleLocal(ctx context.Context, m pxrpc.Message) (*pxrpc.Message, error) {
	switch kind := m.Kind(); kind {
	case pxrpc.KindVersionInfoQuery:
		v := pxchain.CurrentVersionInfo()
		return &pxrpc.Message{VersionInfoResponse: &v}, nil

	case pxrpc.KindNetworkDescriptionQuery:
		nd, err := h.storage.ReadNetworkDescription(ctx)
		if err != nil {
			return nil, err
		}
		if nd == nil {
			return nil, ErrNetworkDescriptionNotFound
		}
		return &pxrpc.Message{NetworkDescriptionResponse: nd}, nil

	case pxrpc.KindUploadBlob:
		blob := pxchain.NewBlob(*m.UploadBlob)
		written, err := h.storage.MaybeWriteBlobs(ctx, []pxchain.Blob{blob})
		if err != nil {
			return nil, err
		}
		if !written[0] {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotExpected, blob.ID())
		}
		id := blob.ID()
		return &pxrpc.Message{UploadBlobResponse: &id}, nil

	case pxrpc.KindDownloadBlob:
		blob, err := h.storage.ReadBlob(ctx, *m.DownloadBlob)
		if err != nil {
			return nil, err
		}
		content := blob.Content()
		return &pxrpc.Message{DownloadBlobResponse: &content}, nil

	case pxrpc.KindDownloadConfirmedBlock:
		block, err := h.storage.ReadConfirmedBlock(ctx, *m.DownloadConfirmedBlock)
		if err != nil {
			return nil, err
		}
		return &pxrpc.Message{DownloadConfirmedBlockResponse: &block}, nil

	case pxrpc.KindDownloadCertificates:
		certs, err := h.storage.ReadCertificates(ctx, m.DownloadCertificates.Hashes)
		if err != nil {
			return nil, err
		}
		return &pxrpc.Message{
			DownloadCertificatesResponse: &pxrpc.DownloadCertificatesResponse{Certificates: certs},
		}, nil

	case pxrpc.KindBlobLastUsedBy:
		state, err := h.storage.ReadBlobState(ctx, *m.BlobLastUsedBy)
		if err != nil {
			return nil, err
		}
		return &pxrpc.Message{
			BlobLastUsedByResponse: &pxrpc.BlobLastUsedByResponse{
				LastUsedBy: state.LastUsedBy,
				Epoch:      state.Epoch,
			},
		}, nil

	case pxrpc.KindMissingBlobIDs:
		missing, err := h.storage.MissingBlobs(ctx, m.MissingBlobIDs.BlobIDs)
		if err != nil {
			return nil, err
		}
		return &pxrpc.Message{
			MissingBlobIDsResponse: &pxrpc.MissingBlobIDsResponse{BlobIDs: missing},
		}, nil

	default:
		return nil, UnexpectedMessageError{Kind: kind}
	}
}
