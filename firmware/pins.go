//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)
	ADC_FULL_SCALE   = 0xFFFF

	// Rail inputs, each behind a 1:2 divider
	PIN_VCC_ADC  = machine.A0
	PIN_VBAT_ADC = machine.A1

	// HX711 load-cell amplifier
	PIN_HX711_DOUT = machine.D2
	PIN_HX711_SCK  = machine.D3

	// Extra clock pulses after the 24 data bits select the next conversion:
	// 1 = channel A gain 128, 2 = channel B gain 32, 3 = channel A gain 64.
	HX711_PULSES_A128 = 1
	HX711_PULSES_B32  = 2

	HX711_READY_TIMEOUT_MS = 500 // Conversion completes within 100ms at 10SPS
	HX711_POWER_DOWN_US    = 80  // SCK high for >60us powers the chip down

	// Serial configuration
	// Longest exchange is "65535 G128\n" answered by "65535 -8388608\n",
	// well within 115200 baud.
	UART_BAUD_RATE  = 115200
	LINE_BUFFER_LEN = 16
)
