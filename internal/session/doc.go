// Package session 定义见证会话的生命周期模型：阶段、进度、日志与
// 事件流，以及会话状态的存储接口与运行队列。
package session
