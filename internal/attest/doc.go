// Package attest 实现指纹见证提交器：对每个已验证的证明指纹执行
// 预检、提交与确认等待，瞬时失败时在有序端点间轮换并指数退避。
package attest
