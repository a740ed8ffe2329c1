//go:build tinygo

//go:generate tinygo flash -target=xiao

// Sensor bridge firmware. Answers one reply line per request line. A request
// may start with a tag, "<tag> <command>"; the reply then starts with the
// same tag so the host can pair replies with requests:
//
//	E     power the amplifier on          -> OK
//	D     power the amplifier down        -> OK
//	G128  select channel A, gain 128      -> OK
//	G32   select channel B, gain 32       -> OK
//	R     convert and read the amplifier  -> signed 24-bit count
//	A0    read VCC                        -> millivolts at the pin
//	A1    read VBAT                       -> millivolts at the pin
//
// Failures are answered with "ERR <message>".
package main

import (
	"errors"
	"machine"
	"strconv"
	"time"
)

var (
	adcVCC  machine.ADC
	adcVBAT machine.ADC
	uart    = machine.UART0

	// Amplifier state
	hxPowered bool
	hxPulses  = HX711_PULSES_A128

	// Serial buffer for reading lines
	serialBuffer [LINE_BUFFER_LEN]byte
	serialPos    int
	overflow     bool
	replyTag     string

	errNotReady    = errors.New("amplifier not ready")
	errPoweredDown = errors.New("amplifier powered down")
)

func main() {
	// Configure ADC pins and set up ADCs with highest resolution
	PIN_VCC_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_VBAT_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcVCC = machine.ADC{Pin: PIN_VCC_ADC}
	adcVBAT = machine.ADC{Pin: PIN_VBAT_ADC}

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}

	adcVCC.Configure(adcConfig)
	adcVBAT.Configure(adcConfig)

	PIN_HX711_DOUT.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_HX711_SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	hxPowerDown()

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	for {
		processSerial()
		time.Sleep(100 * time.Microsecond)
	}
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if overflow {
				replyTag = ""
				reply("ERR line too long")
			} else if serialPos > 0 {
				dispatch(string(serialBuffer[:serialPos]))
			}
			serialPos = 0
			overflow = false
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			overflow = true
		}
	}
}

// dispatch splits off the request tag and answers the command under it.
func dispatch(line string) {
	replyTag = ""
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			replyTag = line[:i+1]
			line = line[i+1:]
			break
		}
	}
	handle(line)
}

func handle(cmd string) {
	switch cmd {
	case "E":
		hxPowerUp()
		reply("OK")
	case "D":
		hxPowerDown()
		reply("OK")
	case "G128":
		replyErr(hxSelect(HX711_PULSES_A128), "OK")
	case "G32":
		replyErr(hxSelect(HX711_PULSES_B32), "OK")
	case "R":
		v, err := hxRead()
		replyErr(err, strconv.FormatInt(int64(v), 10))
	case "A0":
		reply(strconv.FormatUint(uint64(millivolts(adcVCC.Get())), 10))
	case "A1":
		reply(strconv.FormatUint(uint64(millivolts(adcVBAT.Get())), 10))
	default:
		reply("ERR unknown command " + cmd)
	}
}

func reply(line string) {
	uart.Write([]byte(replyTag))
	uart.Write([]byte(line))
	uart.Write([]byte{'\n'})
}

func replyErr(err error, ok string) {
	if err != nil {
		reply("ERR " + err.Error())
		return
	}
	reply(ok)
}

// millivolts scales a 16-bit left-aligned ADC value to the reference.
func millivolts(raw uint16) uint32 {
	return uint32(raw) * ADC_REFERENCE_MV / ADC_FULL_SCALE
}

func hxPowerUp() {
	PIN_HX711_SCK.Low()
	hxPowered = true
}

func hxPowerDown() {
	PIN_HX711_SCK.Low()
	PIN_HX711_SCK.High()
	time.Sleep(HX711_POWER_DOWN_US * time.Microsecond)
	hxPowered = false
}

// hxSelect latches a new gain. The chip applies the gain to the conversion
// after the one that is clocked out with the new pulse count, so one
// conversion is discarded.
func hxSelect(pulses int) error {
	if hxPulses == pulses {
		return nil
	}
	hxPulses = pulses
	_, err := hxRead()
	return err
}

// hxRead waits for a conversion and clocks it out MSB first.
func hxRead() (int32, error) {
	if !hxPowered {
		return 0, errPoweredDown
	}

	deadline := time.Now().Add(HX711_READY_TIMEOUT_MS * time.Millisecond)
	for PIN_HX711_DOUT.Get() {
		if time.Now().After(deadline) {
			return 0, errNotReady
		}
		time.Sleep(time.Millisecond)
	}

	var v uint32
	for range 24 {
		PIN_HX711_SCK.High()
		PIN_HX711_SCK.Low()
		v <<= 1
		if PIN_HX711_DOUT.Get() {
			v |= 1
		}
	}

	for range hxPulses {
		PIN_HX711_SCK.High()
		PIN_HX711_SCK.Low()
	}

	// Sign-extend the 24-bit two's complement value.
	return int32(v<<8) >> 8, nil
}
