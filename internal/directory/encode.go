package directory

import "encoding/binary"

var byteOrder = binary.LittleEndian
