// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryWindowStore / RedisWindowStore: log deslizante por chave (mutex por chave / script Lua)
//   - MemoryStatsStore / RedisStatsStore: contadores por endpoint
//   - Publisher: fila limitada + workers para auditoria e barramento de eventos
//   - ChanPool: semáforo simples para limite de concorrência
//   - Metrics: coletores prometheus
package infra
