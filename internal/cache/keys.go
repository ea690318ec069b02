package cache

// Key 是缓存 key 的生成策略，只有两种形态：固定字符串，或由调用参数推导。
// 推导函数必须是参数的纯函数，同一逻辑请求总是得到同一个 key。
type Key[A any] struct {
	static string
	derive func(A) string
}

// StaticKey 返回固定 key 策略，例如 "events-list"。
func StaticKey[A any](key string) Key[A] {
	return Key[A]{static: key}
}

// DerivedKey 返回由参数推导 key 的策略，例如 func(e string) string { return e + "-leaderboard" }。
func DerivedKey[A any](fn func(A) string) Key[A] {
	return Key[A]{derive: fn}
}

// Resolve 计算本次调用的 key。
func (k Key[A]) Resolve(args A) string {
	if k.derive != nil {
		return k.derive(args)
	}
	return k.static
}
