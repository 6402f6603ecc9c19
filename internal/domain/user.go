package domain

// UserRole 定义用户角色类型
type UserRole string

const (
	UserRoleUser  UserRole = "user"  // 普通用户
	UserRoleAdmin UserRole = "admin" // 管理员
)

// Principal 表示通过认证的调用方，由 JWT 声明解析而来
type Principal struct {
	UserID   int64    `json:"user_id"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// IsAdmin 判断调用方是否为管理员
func (p *Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// Actor 返回写入库存流水的操作人标识
func (p *Principal) Actor() string {
	if p == nil || p.Username == "" {
		return "system"
	}
	return p.Username
}
