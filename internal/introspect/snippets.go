package introspect

// errorSentinel prefixes the single line a snippet prints when the module
// cannot be imported or rendered.
const errorSentinel = "Error: "

// The snippets take the module name from argv so it is never spliced into
// code. Output produced while importing is swallowed so that modules which
// print on import (e.g. "this") cannot corrupt the result stream.

const attributesSnippet = `import contextlib, importlib, inspect, io, json, sys
name = sys.argv[1]
out = sys.stdout
try:
    with contextlib.redirect_stdout(io.StringIO()):
        module = importlib.import_module(name)
except BaseException as exc:
    out.write("Error: %s: %s\n" % (type(exc).__name__, " ".join(str(exc).split())))
    out.flush()
    sys.exit(0)
attrs = []
seen = set()
with contextlib.redirect_stdout(io.StringIO()):
    for attr in dir(module):
        if attr in seen:
            continue
        seen.add(attr)
        try:
            value = getattr(module, attr)
            entry = {"name": attr, "type": type(value).__name__}
            if inspect.isroutine(value) or inspect.isclass(value) or inspect.ismodule(value):
                doc = inspect.getdoc(value)
                if doc:
                    entry["docString"] = doc
        except BaseException:
            continue
        attrs.append(entry)
out.write(json.dumps(attrs))
out.write("\n")
out.flush()
`

const helpSnippet = `import contextlib, importlib, io, pydoc, sys
name = sys.argv[1]
size = int(sys.argv[2])
out = sys.stdout
try:
    with contextlib.redirect_stdout(io.StringIO()):
        module = importlib.import_module(name)
        text = pydoc.render_doc(module, "Help on %s:", renderer=pydoc.plaintext)
except BaseException as exc:
    out.write("Error: %s: %s\n" % (type(exc).__name__, " ".join(str(exc).split())))
    out.flush()
    sys.exit(0)
out.write("SIZE:%d\n" % len(text))
for start in range(0, len(text), size):
    chunk = text[start:start + size]
    out.write("CHUNK:%d\n" % len(chunk))
    out.write(chunk)
    out.write("\n")
out.flush()
`

// snippetEnv forces a lossless-length UTF-8 stdout: unencodable characters
// become "?" so character counts still agree with the declared size.
var snippetEnv = []string{
	"PYTHONIOENCODING=utf-8:replace",
	"PYTHONDONTWRITEBYTECODE=1",
	"PYTHONUNBUFFERED=1",
}
