// Package views 登记所有被缓存的只读视图：名称、key 模板与默认 TTL。
//
// 路由层通过 Options 获取合并了配置覆盖后的 cache.ViewOptions，
// 变更处理器通过本包的 key 构造函数得到需要失效的 key，两者使用同一套命名。
// /-/views 诊断端点也从这里读取视图清单。
package views
