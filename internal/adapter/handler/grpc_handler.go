package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/core/service"
)

// JSONCodecName is the content subtype both sides must use ("application/grpc+json").
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type SubmitReceiptRequest struct {
	SiteID      string             `json:"siteId"`
	Lines       []service.CartLine `json:"lines"`
	Signatories domain.Signatories `json:"signatories"`
	ShowPrices  bool               `json:"showPrices"`
	Actor       string             `json:"actor"`
	RequestID   string             `json:"requestId"`
}

type SubmitReceiptResponse struct {
	Receipt *domain.DeliveryReceipt `json:"receipt"`
}

type AdjustStockRequest struct {
	ItemID string `json:"itemId"`
	Delta  int    `json:"delta"`
	Actor  string `json:"actor"`
}

type AdjustStockResponse struct {
	Item *domain.InventoryItem `json:"item"`
}

type ReceiptServiceServer interface {
	SubmitReceipt(context.Context, *SubmitReceiptRequest) (*SubmitReceiptResponse, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*AdjustStockResponse, error)
}

var ReceiptServiceDesc = grpc.ServiceDesc{
	ServiceName: "warehouse.ReceiptService",
	HandlerType: (*ReceiptServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitReceipt", Handler: submitReceiptHandler},
		{MethodName: "AdjustStock", Handler: adjustStockHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterReceiptServiceServer(s grpc.ServiceRegistrar, srv ReceiptServiceServer) {
	s.RegisterService(&ReceiptServiceDesc, srv)
}

func submitReceiptHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitReceiptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReceiptServiceServer).SubmitReceipt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/warehouse.ReceiptService/SubmitReceipt"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReceiptServiceServer).SubmitReceipt(ctx, req.(*SubmitReceiptRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func adjustStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AdjustStockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReceiptServiceServer).AdjustStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/warehouse.ReceiptService/AdjustStock"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReceiptServiceServer).AdjustStock(ctx, req.(*AdjustStockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ReceiptServiceClient calls the service over a JSON-coded connection.
type ReceiptServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewReceiptServiceClient(cc grpc.ClientConnInterface) *ReceiptServiceClient {
	return &ReceiptServiceClient{cc: cc}
}

func (c *ReceiptServiceClient) SubmitReceipt(ctx context.Context, in *SubmitReceiptRequest, opts ...grpc.CallOption) (*SubmitReceiptResponse, error) {
	out := new(SubmitReceiptResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/warehouse.ReceiptService/SubmitReceipt", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReceiptServiceClient) AdjustStock(ctx context.Context, in *AdjustStockRequest, opts ...grpc.CallOption) (*AdjustStockResponse, error) {
	out := new(AdjustStockResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/warehouse.ReceiptService/AdjustStock", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	receipts *service.ReceiptService
	stock    *service.StockService
	logger   *zap.Logger
}

func NewGRPCHandler(receipts *service.ReceiptService, stock *service.StockService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{receipts: receipts, stock: stock, logger: logger}
}

func (h *GRPCHandler) SubmitReceipt(ctx context.Context, req *SubmitReceiptRequest) (*SubmitReceiptResponse, error) {
	receipt, err := h.receipts.Submit(ctx, service.SubmitRequest{
		SiteID:      req.SiteID,
		Lines:       req.Lines,
		Signatories: req.Signatories,
		ShowPrices:  req.ShowPrices,
		Actor:       req.Actor,
		RequestID:   req.RequestID,
	})
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &SubmitReceiptResponse{Receipt: receipt}, nil
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*AdjustStockResponse, error) {
	item, err := h.stock.AdjustStock(ctx, req.ItemID, req.Delta, req.Actor)
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &AdjustStockResponse{Item: item}, nil
}

func (h *GRPCHandler) grpcError(err error) error {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		return status.Errorf(codes.FailedPrecondition, "insufficient stock for %s", stockErr.SKU)
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrNegativeResult):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrTransactionAborted):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrInvalidCart), errors.Is(err, domain.ErrInvalidItem), errors.Is(err, domain.ErrInvalidSite):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		h.logger.Error("grpc_internal_error", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
