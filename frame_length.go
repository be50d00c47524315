package modbus

// LengthStatus reports whether a response length could be determined.
type LengthStatus int

const (
	// LengthNeedMore means more leading bytes are needed.
	LengthNeedMore LengthStatus = iota
	// LengthKnown means the returned length is final for this frame.
	LengthKnown
	// LengthUnsupported means the frame cannot be sized; the leading byte
	// is not a usable frame start.
	LengthUnsupported
)

func (s LengthStatus) String() string {
	switch s {
	case LengthNeedMore:
		return "need-more"
	case LengthKnown:
		return "known"
	case LengthUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// Response lengths for function codes whose answer has a fixed size
// (SlaveID + PDU + CRC).
var fixedResponseLengths = map[byte]int{
	FuncCodeWriteSingleCoil:        8, // SlaveID + FuncCode + Address + Value + CRC
	FuncCodeWriteSingleRegister:    8,
	FuncCodeWriteMultipleCoils:     8, // SlaveID + FuncCode + Address + Quantity + CRC
	FuncCodeWriteMultipleRegisters: 8,
	FuncCodeGetCommEventCounter:    8, // SlaveID + FuncCode + Status + EventCount + CRC
	FuncCodeMaskWriteRegister:      10,
	FuncCodeReadExceptionStatus:    5, // SlaveID + FuncCode + Status + CRC
}

// Function codes whose response carries a byte count at offset 2.
var byteCountFunctions = map[byte]bool{
	FuncCodeReadCoils:                  true,
	FuncCodeReadDiscreteInputs:         true,
	FuncCodeReadHoldingRegisters:       true,
	FuncCodeReadInputRegisters:         true,
	FuncCodeGetCommEventLog:            true,
	FuncCodeReportServerID:             true,
	FuncCodeReadFileRecord:             true,
	FuncCodeWriteFileRecord:            true,
	FuncCodeReadWriteMultipleRegisters: true,
}

const (
	byteCountOffset = 2
	byteCountHeader = 3 // SlaveID + FuncCode + ByteCount

	// Read FIFO Queue carries a 16-bit byte count covering the FIFO count
	// and at most 31 registers.
	fifoCountHeader  = 4 // SlaveID + FuncCode + ByteCount(2)
	maxFIFOByteCount = 2 + 31*2
)

// ExpectedResponseLength returns the total wire length (CRC included) of the
// response frame whose leading bytes are in seen. The response must come from
// ctx.SlaveAddress and echo ctx.FunctionCode, with or without the exception
// flag; anything else is LengthUnsupported.
func ExpectedResponseLength(ctx ResponseContext, seen []byte) (int, LengthStatus) {
	if !ctx.Valid {
		return 0, LengthUnsupported
	}
	if len(seen) == 0 {
		return 0, LengthNeedMore
	}
	if seen[0] != ctx.SlaveAddress {
		return 0, LengthUnsupported
	}
	if len(seen) < 2 {
		return 0, LengthNeedMore
	}

	functionCode := seen[1]
	if functionCode&ExceptionFlag != 0 {
		if functionCode != ctx.FunctionCode|ExceptionFlag {
			return 0, LengthUnsupported
		}
		return ExceptionLength, LengthKnown
	}
	if functionCode != ctx.FunctionCode {
		return 0, LengthUnsupported
	}

	if n, ok := fixedResponseLengths[functionCode]; ok {
		return n, LengthKnown
	}
	if byteCountFunctions[functionCode] {
		if len(seen) <= byteCountOffset {
			return 0, LengthNeedMore
		}
		return byteCountHeader + int(seen[byteCountOffset]) + CRCSize, LengthKnown
	}
	if functionCode == FuncCodeReadFIFOQueue {
		if len(seen) < fifoCountHeader {
			return 0, LengthNeedMore
		}
		count := int(seen[byteCountOffset])<<8 | int(seen[byteCountOffset+1])
		if count > maxFIFOByteCount {
			return 0, LengthUnsupported
		}
		return fifoCountHeader + count + CRCSize, LengthKnown
	}
	return 0, LengthUnsupported
}

// IsSupportedFunction reports whether responses to functionCode can be sized.
func IsSupportedFunction(functionCode byte) bool {
	_, fixed := fixedResponseLengths[functionCode]
	return fixed || byteCountFunctions[functionCode] || functionCode == FuncCodeReadFIFOQueue
}
