// Package workflow 将收集、验证与见证三个阶段编排为可观察的会话流程，
// 并提供会话的提交、查询与消费入口。
package workflow
