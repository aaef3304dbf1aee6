package application

// 缓存键布局，其他服务也按同样的键读取，不要随意修改。
const (
	keyAllOrders = "AllOrders"
)

func orderKey(orderID string) string {
	return "Order:" + orderID
}

func userOrdersKey(customerID string) string {
	return "UserOrders:" + customerID
}

func orderProductsKey(orderID string) string {
	return "OrderProducts:" + orderID
}

func orderProductKey(orderID, productID string) string {
	return "OrderProduct:" + orderID + ":" + productID
}

// 视图的 schema 标签，结构变化时升级版本号，旧条目会被当作未命中重建。
const (
	schemaOrder            = "order.v1"
	schemaOrderList        = "order-list.v1"
	schemaOrderProduct     = "order-product.v1"
	schemaOrderProductList = "order-product-list.v1"
)

// 指标里的视图名
const (
	viewOrder            = "order"
	viewAllOrders        = "all_orders"
	viewUserOrders       = "user_orders"
	viewOrderProduct     = "order_product"
	viewOrderProductList = "order_products"
)
