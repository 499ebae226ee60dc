package repository

// notFoundError 带 NotFound() 标记的 sentinel，错误分类按标记识别，
// 不依赖具体仓储类型
type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func (notFoundError) NotFound() bool { return true }

var (
	ErrUserNotFound error = notFoundError("user not found")
	ErrPostNotFound error = notFoundError("post not found")
)
