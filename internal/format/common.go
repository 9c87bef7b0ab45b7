package format

// Options shared by every reader.
var CommonReaderOptions = []Option{
	{
		Name:    "r_encoding",
		Label:   "Input Encoding",
		Type:    TypeString,
		Default: "utf8",
		Help:    "Text encoding of the input files. utf8 works for most files.",
	},
}

// Options shared by every writer.
var CommonWriterOptions = []Option{
	{
		Name:     "output_dir",
		Label:    "Folder",
		Type:     TypeString,
		Required: true,
		Help:     "Directory the converted files are written to.",
	},
	{
		Name:  "output_filename",
		Label: "Output Filename",
		Type:  TypeString,
		Help:  "Name for the output file(s). Defaults to the input file name.",
	},
	{
		Name:    "w_encoding",
		Label:   "Output Encoding",
		Type:    TypeString,
		Default: "utf8",
		Help:    "Text encoding used for the output files.",
	},
	{
		Name:    "ignore_blank_lines",
		Label:   "Ignore Blank Lines",
		Type:    TypeBool,
		Default: false,
		Help:    "Drop blank lines when writing.",
	},
	{
		Name:    "lowercase",
		Label:   "Lowercase",
		Type:    TypeBool,
		Default: false,
		Help:    "Write the output in all lowercase.",
	},
	{
		Name:  "text_wrap",
		Label: "Text Wrapping",
		Type:  TypeInt,
		Help:  "Wrap text at the given line length in characters.",
	},
}
