// Package verifier 按信封携带的证明体系标签，将解码后的证明路由到对应的
// 验证能力。验证能力被当作黑盒：其内部失败（超时、密钥格式错误）一律折算
// 为"验证不通过"并附带诊断信息；而标签没有注册验证能力则是配置缺陷，
// 以独立的错误码向上暴露，绝不与"证明无效"混淆。
package verifier
