package port

import "context"

// InventoryOperation 对应库存服务的三个请求通道。
type InventoryOperation string

const (
	InventoryReserve InventoryOperation = "reserve"
	InventoryAdjust  InventoryOperation = "adjust"
	InventoryRelease InventoryOperation = "release"
)

// InventoryReply 是库存服务的应答。Name 仅在商品可用时有意义。
type InventoryReply struct {
	Available bool
	Name      string
}

// InventoryService 是库存服务的出站端口。
type InventoryService interface {
	// Call 发送一次带关联 id 的请求并等待应答。
	// 超时视为不可用 (Available=false, err=nil)；调用方取消时返回 domain.ErrCancelled。
	Call(ctx context.Context, op InventoryOperation, productID string, quantityDelta int) (InventoryReply, error)
}
