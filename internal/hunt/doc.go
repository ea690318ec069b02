// Package hunt 保存选手、赛事、题目与公告，基于 bun + SQLite。
//
// 这里只负责持久化与业务校验；缓存失效由调用方（HTTP 路由）在写入成功后完成。
package hunt
