//go:build !tinygo

package config

// Built-in profiles for the host runner, keyed by name.

const cfgPico = `
wake:
  period: 2.7s
sensor:
  address: 0x40
  resolution: 10RH_13T
  alert_f: 80
link:
  ring_size: 128
  name: sensorlink
  greeting: true
serial:
  baud: 9600
power:
  deepest: 3
  bus_block: 2
  tx_block: 3
  system_block: 3
`

const cfgBench = `
wake:
  period: 250ms
sensor:
  resolution: 12RH_14T
link:
  ring_size: 512
  greeting: false
`

var embeddedConfigs = map[string]string{
	"pico":  cfgPico,
	"bench": cfgBench,
}
