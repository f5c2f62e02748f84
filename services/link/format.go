package link

import "sensorlink/x/conv"

// temperatureLine renders "Temp = 72.3 F\n".
func temperatureLine(dst []byte, deciF int32) []byte {
	dst = append(dst, "Temp = "...)
	dst = conv.AppendDeci(dst, deciF)
	return append(dst, " F\n"...)
}

// humidityLine renders "RH = 41.2 % \n".
func humidityLine(dst []byte, deciRH int32) []byte {
	dst = append(dst, "RH = "...)
	dst = conv.AppendDeci(dst, deciRH)
	return append(dst, " % \n"...)
}
