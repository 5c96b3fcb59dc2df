// Package envelope 定义了证明记录的规范二进制格式。信封是客户端、采集器
// 与验证调度器之间冻结的协议接口：任何证明在进入流水线之前都必须编码为
// 该格式。解码是全有或全无的，长度字段与缓冲区不一致一律判为格式错误。
package envelope
