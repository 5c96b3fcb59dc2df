// Package ledger 抽象了外部账本的访问能力。账本以一组等价、可互换的网络
// 端点暴露三个操作：查询指纹是否已被记录、提交指纹、等待回执确认。端点
// 列表是只读的共享配置，轮换策略由上层的提交器决定。
package ledger
