package quality

// kernelModule is the compiled form of quality.wat. It exports
//
//	quality_tier(f64) -> i32
//	adaptive_bitrate(f64, f64, f64) -> f64
//
// and has no imports, memory or globals.
var kernelModule = []byte{
	// magic, version 1
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,

	// type section: (f64)->i32, (f64,f64,f64)->f64
	0x01, 0x0d, 0x02,
	0x60, 0x01, 0x7c, 0x01, 0x7f,
	0x60, 0x03, 0x7c, 0x7c, 0x7c, 0x01, 0x7c,

	// function section
	0x03, 0x03, 0x02, 0x00, 0x01,

	// export section
	0x07, 0x23, 0x02,
	0x0c, 'q', 'u', 'a', 'l', 'i', 't', 'y', '_', 't', 'i', 'e', 'r', 0x00, 0x00,
	0x10, 'a', 'd', 'a', 'p', 't', 'i', 'v', 'e', '_', 'b', 'i', 't', 'r', 'a', 't', 'e', 0x00, 0x01,

	// code section
	0x0a, 0x8d, 0x01, 0x02,

	// quality_tier
	0x24, 0x00,
	0x20, 0x00, // local.get 0
	0x44, 0x00, 0x00, 0x00, 0x00, 0x80, 0x84, 0x2e, 0x41, // f64.const 1e6
	0xa3,                                                 // f64.div
	0x9c,                                                 // f64.floor
	0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // f64.const 0
	0xa5,                                                 // f64.max
	0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x40, // f64.const 3
	0xa4, // f64.min
	0xaa, // i32.trunc_f64_s
	0x0b,

	// adaptive_bitrate
	0x66, 0x00,
	0x20, 0x01, // local.get health
	0x44, 0x9a, 0x99, 0x99, 0x99, 0x99, 0x99, 0xc9, 0x3f, // f64.const 0.2
	0x63,                         // f64.lt
	0x20, 0x02, 0x20, 0x00, 0x63, // speed < current
	0x71,       // i32.and
	0x04, 0x7c, // if (result f64)
	0x20, 0x00,
	0x44, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0xe6, 0x3f, // f64.const 0.7
	0xa2,                                                 // f64.mul
	0x44, 0x00, 0x00, 0x00, 0x00, 0x80, 0x84, 0x1e, 0x41, // f64.const 500000
	0xa5,       // f64.max
	0x05,       // else
	0x20, 0x01, // local.get health
	0x44, 0x9a, 0x99, 0x99, 0x99, 0x99, 0x99, 0xe9, 0x3f, // f64.const 0.8
	0x64,                   // f64.gt
	0x20, 0x02, 0x20, 0x00, // speed, current
	0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf8, 0x3f, // f64.const 1.5
	0xa2,       // f64.mul
	0x64,       // f64.gt
	0x71,       // i32.and
	0x04, 0x7c, // if (result f64)
	0x20, 0x00,
	0x44, 0x33, 0x33, 0x33, 0x33, 0x33, 0x33, 0xf3, 0x3f, // f64.const 1.2
	0xa2,                                                 // f64.mul
	0x44, 0x00, 0x00, 0x00, 0x00, 0x80, 0x84, 0x5e, 0x41, // f64.const 8e6
	0xa4,       // f64.min
	0x05,       // else
	0x20, 0x00, // local.get current
	0x0b,
	0x0b,
	0x0b,
}
