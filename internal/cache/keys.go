package cache

import "fmt"

// 缓存键约定
const (
	HomePattern   = "home:*"
	SearchPattern = "search:*"
)

// ProductIDKey 商品详情（按 ID）
func ProductIDKey(id int64) string {
	return fmt.Sprintf("product:id:%d", id)
}

// ProductSlugKey 商品详情（按 slug）
func ProductSlugKey(slug string) string {
	return "product:slug:" + slug
}

// StockKey 商品库存读缓存
func StockKey(productID int64) string {
	return fmt.Sprintf("stock:product:%d", productID)
}

// CategoryListPattern 某分类下所有列表页
func CategoryListPattern(categoryID int64) string {
	return fmt.Sprintf("products:list:category:%d:*", categoryID)
}

// CartKey 用户购物车
func CartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

// IdempotencyKey 幂等请求记录
func IdempotencyKey(scope, key string) string {
	return "idempotency:" + scope + ":" + key
}
