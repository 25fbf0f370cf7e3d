// Package docextract provides an embedded Go client for the docextract pipeline:
// business documents (PDF, PNG, JPEG or plain text) go in, a classified, validated
// and schema-mapped result comes out.
//
// Documents with a usable text layer are extracted locally; scans go to a vision
// model. Results are cached by content digest, so submitting the same bytes twice
// returns the identical result without a second model call.
//
//	client, _ := docextract.New(ctx,
//	    docextract.WithEntity("HMF Corporation SA", "HYPERVISUAL", "HMF"),
//	    docextract.WithOpenAI(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	res, err := client.Extract(ctx, data, "invoice.pdf")
//	if code := docextract.FailureCode(err); code != "" {
//	    // classified failure: FILE_TOO_LARGE, UNSUPPORTED_FORMAT, API_ERROR, ...
//	}
//	fmt.Println(res.DocumentType, res.Gross, res.Collection)
package docextract
