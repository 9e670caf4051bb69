package handler

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/core/service"
)

func newGRPCClient(t *testing.T, env *testEnv) *ReceiptServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterReceiptServiceServer(srv, NewGRPCHandler(env.receipts, env.stock, nil))
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return NewReceiptServiceClient(conn)
}

func (e *testEnv) grpcRequest(qty int) *SubmitReceiptRequest {
	return &SubmitReceiptRequest{
		SiteID:      e.siteID,
		Lines:       []service.CartLine{{ItemID: e.itemID, Quantity: qty}},
		Signatories: domain.Signatories{Recipient: "Juan", PreparedBy: "Ana", CheckedBy: "Ben"},
		Actor:       "Admin",
	}
}

func TestGRPC_SubmitReceipt(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)

	resp, err := client.SubmitReceipt(context.Background(), env.grpcRequest(2))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Receipt == nil || resp.Receipt.ReceiptNumber != "MNL-00001" {
		t.Fatalf("unexpected response: %+v", resp.Receipt)
	}
	if len(resp.Receipt.Lines) != 1 || resp.Receipt.Lines[0].SKU != "SKU-BOLT" {
		t.Errorf("unexpected lines: %+v", resp.Receipt.Lines)
	}

	resp, err = client.SubmitReceipt(context.Background(), env.grpcRequest(2))
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if resp.Receipt.ReceiptNumber != "MNL-00002" {
		t.Errorf("expected MNL-00002, got %s", resp.Receipt.ReceiptNumber)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)
	ctx := context.Background()

	_, err := client.SubmitReceipt(ctx, env.grpcRequest(50))
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition for insufficient stock, got %v", err)
	}

	_, err = client.SubmitReceipt(ctx, env.grpcRequest(0))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for an empty line, got %v", err)
	}

	req := env.grpcRequest(1)
	req.SiteID = "ghost"
	_, err = client.SubmitReceipt(ctx, req)
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for an unknown site, got %v", err)
	}

	req = env.grpcRequest(1)
	req.RequestID = "grpc-1"
	if _, err := client.SubmitReceipt(ctx, req); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	_, err = client.SubmitReceipt(ctx, req)
	if status.Code(err) != codes.AlreadyExists {
		t.Errorf("expected AlreadyExists for a repeated request id, got %v", err)
	}
}

func TestGRPC_AdjustStock(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)
	ctx := context.Background()

	resp, err := client.AdjustStock(ctx, &AdjustStockRequest{ItemID: env.itemID, Delta: -4, Actor: "Admin"})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if resp.Item.Quantity != 6 {
		t.Errorf("expected qty 6, got %d", resp.Item.Quantity)
	}

	_, err = client.AdjustStock(ctx, &AdjustStockRequest{ItemID: env.itemID, Delta: -7})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition for a negative result, got %v", err)
	}
}
