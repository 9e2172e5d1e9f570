package discord

// CallbackPageHTML is the static page served for every request to the redirect
// path. It never includes request data, so the outcome is reported by the
// desktop application rather than the browser tab.
const CallbackPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta name="referrer" content="no-referrer">
    <title>Aquila - Discord sign-in</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #2b2d31;
            color: #f2f3f5;
        }
        .card {
            background: #313338;
            border-radius: 12px;
            padding: 2.5rem 3rem;
            text-align: center;
            box-shadow: 0 8px 24px rgba(0, 0, 0, 0.35);
            max-width: 28rem;
        }
        h1 {
            font-size: 1.4rem;
            margin: 0 0 0.75rem;
        }
        p {
            color: #b5bac1;
            line-height: 1.5;
            margin: 0;
        }
    </style>
</head>
<body>
    <div class="card">
        <h1>Sign-in received</h1>
        <p>You can close this tab and return to Aquila. The application will show whether the sign-in succeeded.</p>
    </div>
    <script>
        setTimeout(function () { window.close(); }, 3000);
    </script>
</body>
</html>`
